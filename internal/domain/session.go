package domain

// Namespace separates sessions owned by different transports. The same id in
// two namespaces names two unrelated sessions.
type Namespace string

const (
	NamespaceHTTP   Namespace = "http"
	NamespaceStream Namespace = "stream"
)

// ModalityConfig is fixed when a session starts and never changes afterwards.
type ModalityConfig struct {
	AcceptsAudio       bool `json:"accepts_audio"`
	AudioOutputEnabled bool `json:"audio_output_enabled"`
	TranscribeInput    bool `json:"transcribe_input"`
	TranscribeOutput   bool `json:"transcribe_output"`
}

// TextOnlyModality is the configuration for request/response sessions.
func TextOnlyModality() ModalityConfig { return ModalityConfig{} }

// NewStreamModality derives the modality of a streaming session from the two
// connection flags.
func NewStreamModality(isAudio, audioInputOnly bool) ModalityConfig {
	return ModalityConfig{
		AcceptsAudio:       isAudio || audioInputOnly,
		AudioOutputEnabled: isAudio && !audioInputOnly,
		TranscribeInput:    isAudio || audioInputOnly,
		TranscribeOutput:   isAudio && !audioInputOnly,
	}
}

// Scratch state keys written by the request/response transport.
const (
	ScratchConversationContext = "conversation_context"
	ScratchUserPreferences     = "user_preferences"
	ScratchSessionType         = "session_type"
)

// ContextEntry is one element of the conversation_context scratch list.
type ContextEntry struct {
	UserMessage   string `json:"user_message"`
	AgentResponse string `json:"agent_response"`
}
