package domain

// StreamEventKind tags a StreamEvent.
type StreamEventKind string

const (
	StreamPartialText     StreamEventKind = "partial_text"
	StreamFinalText       StreamEventKind = "final_text"
	StreamAudioChunk      StreamEventKind = "audio_chunk"
	StreamImageChunk      StreamEventKind = "image_chunk"
	StreamInputTranscript StreamEventKind = "input_transcript"
	StreamTurnComplete    StreamEventKind = "turn_complete"
	StreamInterrupted     StreamEventKind = "interrupted"
	StreamError           StreamEventKind = "error"
)

// TurnID identifies an oracle turn within one live session. IDs start at 1
// and increase after every terminal marker.
type TurnID uint64

// StreamEvent is emitted by a LiveSession.
type StreamEvent struct {
	Kind     StreamEventKind
	TurnID   TurnID
	MIMEType string
	Text     string
	Data     []byte
	// Partial marks streaming fragments. Input transcripts use it to signal
	// that the user's utterance is not complete yet.
	Partial bool
	Err     error
}

// IsTerminal reports whether the event ends a turn.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == StreamTurnComplete || e.Kind == StreamInterrupted
}

// ClientMessage is a client-to-server streaming frame.
type ClientMessage struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Role     string `json:"role,omitempty"`
}

// ServerMessage is a server-to-client streaming frame: either a status frame
// or a content frame. Error frames are content frames with MIMEType "error".
type ServerMessage struct {
	status       bool
	TurnComplete bool
	Interrupted  bool

	MIMEType string
	Data     string
	Role     string
}

// StatusMessage builds a terminal status frame.
func StatusMessage(turnComplete, interrupted bool) ServerMessage {
	return ServerMessage{status: true, TurnComplete: turnComplete, Interrupted: interrupted}
}

// ContentMessage builds a model content frame.
func ContentMessage(mime, data string) ServerMessage {
	return ServerMessage{MIMEType: mime, Data: data, Role: string(RoleModel)}
}

// ErrorMessage builds an in-band error frame.
func ErrorMessage(detail string) ServerMessage {
	return ServerMessage{MIMEType: MIMEError, Data: detail}
}

// IsStatus reports whether m is a terminal status frame.
func (m ServerMessage) IsStatus() bool { return m.status }

// IsError reports whether m is an in-band error frame.
func (m ServerMessage) IsError() bool { return !m.status && m.MIMEType == MIMEError }

// Wire returns the JSON-ready representation of the frame.
func (m ServerMessage) Wire() map[string]any {
	if m.status {
		return map[string]any{"turn_complete": m.TurnComplete, "interrupted": m.Interrupted}
	}
	out := map[string]any{"mime_type": m.MIMEType, "data": m.Data}
	if m.Role != "" {
		out["role"] = m.Role
	}
	return out
}
