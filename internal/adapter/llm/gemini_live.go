package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
)

const (
	defaultGeminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	liveReadLimit        = 16 << 20
	liveSetupTimeout     = 15 * time.Second
	liveEventBuffer      = 64
)

// GeminiLiveConnector opens Gemini Live BidiGenerateContent sessions.
type GeminiLiveConnector struct {
	url    string
	model  string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewGeminiLiveConnector creates a connector from a provider config. The live
// model falls back to the request/response model.
func NewGeminiLiveConnector(cfg config.ProviderConfig, logger *slog.Logger) *GeminiLiveConnector {
	url := cfg.LiveURL
	if url == "" {
		url = defaultGeminiLiveURL
	}
	model := cfg.LiveModel
	if model == "" {
		model = cfg.Model
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiLiveConnector{
		url:    url,
		model:  model,
		apiKey: cfg.APIKey,
		client: newWebSocketClient(cfg),
		logger: logger,
	}
}

// Connect implements domain.LiveConnector. It returns once the server has
// acknowledged the setup message.
func (g *GeminiLiveConnector) Connect(ctx context.Context, cfg domain.LiveConfig) (domain.LiveSession, error) {
	header := http.Header{}
	if g.apiKey != "" {
		header.Set("X-Goog-Api-Key", g.apiKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, liveSetupTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, g.url, &websocket.DialOptions{
		HTTPClient: g.client,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial live endpoint: %v", domain.ErrOracleFailure, err)
	}
	ws.SetReadLimit(liveReadLimit)

	if err := wsjson.Write(dialCtx, ws, liveSetupMessage(g.model, cfg)); err != nil {
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: send setup: %v", domain.ErrOracleFailure, err)
	}
	if err := awaitSetupComplete(dialCtx, ws); err != nil {
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	s := &geminiLiveSession{
		ws:     ws,
		events: make(chan domain.StreamEvent, liveEventBuffer),
		turnID:      1,
		transcribed: cfg.Modality.TranscribeInput,
		stop:        stop,
		logger:      g.logger.With("session_id", cfg.SessionID),
	}
	go s.readLoop(runCtx)

	g.logger.Debug("live session established", "session_id", cfg.SessionID, "model", g.model, "audio_out", cfg.Modality.AudioOutputEnabled)
	return s, nil
}

func liveSetupMessage(model string, cfg domain.LiveConfig) liveClientMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	gen := &liveGenerationConfig{ResponseModalities: []string{domain.ResponseText}}
	if cfg.Modality.AudioOutputEnabled {
		gen.ResponseModalities = []string{domain.ResponseAudio}
		voice := cfg.Voice
		if voice == "" {
			voice = "Puck"
		}
		gen.SpeechConfig = &liveSpeechConfig{VoiceConfig: liveVoiceConfig{PrebuiltVoiceConfig: livePrebuiltVoice{VoiceName: voice}}}
	}

	setup := &liveSetup{Model: model, GenerationConfig: gen}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Modality.TranscribeInput {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.Modality.TranscribeOutput {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return liveClientMessage{Setup: setup}
}

func awaitSetupComplete(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: await setup: %v", domain.ErrOracleFailure, err)
		}
		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// geminiLiveSession adapts one BidiGenerateContent socket to domain.LiveSession.
type geminiLiveSession struct {
	ws     *websocket.Conn
	events chan domain.StreamEvent
	stop   context.CancelFunc
	logger *slog.Logger

	// transcribed reports whether input transcripts arrive, so a new spoken
	// utterance is visible to the reader.
	transcribed bool
	// draining is set by an interruption and cleared when the next user turn
	// opens. Model output seen in between belongs to the interrupted turn.
	draining atomic.Bool

	// readLoop state
	turnID     domain.TurnID
	transcript strings.Builder

	closeOnce sync.Once
}

func (s *geminiLiveSession) SendContent(ctx context.Context, c domain.Content) error {
	msg := liveClientMessage{ClientContent: &liveClientContent{
		Turns:        []geminiContent{toGeminiContent(c)},
		TurnComplete: true,
	}}
	s.draining.Store(false)
	return s.write(ctx, msg)
}

func (s *geminiLiveSession) SendRealtime(ctx context.Context, p domain.Part) error {
	if !s.transcribed {
		s.draining.Store(false)
	}
	msg := liveClientMessage{RealtimeInput: &liveRealtimeInput{
		MediaChunks: []geminiInline{{MIMEType: p.MIMEType, Data: p.Data}},
	}}
	return s.write(ctx, msg)
}

func (s *geminiLiveSession) Events() <-chan domain.StreamEvent { return s.events }

func (s *geminiLiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ws.Close(websocket.StatusNormalClosure, "")
		s.stop()
	})
	return err
}

func (s *geminiLiveSession) write(ctx context.Context, msg liveClientMessage) error {
	if err := wsjson.Write(ctx, s.ws, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewSubSystemError("oracle", "geminiLiveSession.write", domain.ErrTransportClosed, err.Error())
	}
	return nil
}

// readLoop translates server messages into StreamEvents until the socket
// fails or the session is closed.
func (s *geminiLiveSession) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		_, data, err := s.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.emit(ctx, domain.StreamEvent{Kind: domain.StreamError, TurnID: s.turnID, Err: fmt.Errorf("%w: %v", domain.ErrOracleFailure, err)})
			}
			return
		}

		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("skipping undecodable live message", "error", err)
			continue
		}
		if msg.GoAway != nil {
			s.logger.Info("live server going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent == nil {
			continue
		}
		for _, ev := range s.translate(msg.ServerContent) {
			if !s.emit(ctx, ev) {
				return
			}
		}
	}
}

// translate converts one serverContent message. Input transcription is
// buffered until the model starts answering or the turn ends, then emitted
// once as a final transcript. When a message carries both terminal flags only
// the interruption is reported. After an interruption, model output and
// terminal flags are dropped until a new user turn opens.
func (s *geminiLiveSession) translate(sc *liveServerContent) []domain.StreamEvent {
	var out []domain.StreamEvent

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.draining.Store(false)
		s.transcript.WriteString(sc.InputTranscription.Text)
		out = append(out, domain.StreamEvent{Kind: domain.StreamInputTranscript, TurnID: s.turnID, Text: sc.InputTranscription.Text, Partial: true})
		if sc.InputTranscription.Finished {
			out = append(out, s.flushTranscript()...)
		}
	}

	if s.draining.Load() {
		if sc.ModelTurn != nil || sc.TurnComplete || sc.Interrupted {
			s.logger.Debug("dropping output of interrupted turn", "turn_id", s.turnID-1)
		}
		return out
	}

	answering := sc.ModelTurn != nil || sc.OutputTranscription != nil
	if answering || sc.TurnComplete || sc.Interrupted {
		out = append(out, s.flushTranscript()...)
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil && len(p.InlineData.Data) > 0:
				kind := domain.StreamAudioChunk
				if strings.HasPrefix(p.InlineData.MIMEType, "image/") {
					kind = domain.StreamImageChunk
				}
				out = append(out, domain.StreamEvent{Kind: kind, TurnID: s.turnID, MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data, Partial: true})
			case p.Text != "":
				out = append(out, domain.StreamEvent{Kind: domain.StreamPartialText, TurnID: s.turnID, Text: p.Text, Partial: true})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, domain.StreamEvent{Kind: domain.StreamPartialText, TurnID: s.turnID, Text: sc.OutputTranscription.Text, Partial: true})
	}

	switch {
	case sc.Interrupted:
		out = append(out, domain.StreamEvent{Kind: domain.StreamInterrupted, TurnID: s.turnID})
		s.turnID++
		s.draining.Store(true)
	case sc.TurnComplete:
		out = append(out, domain.StreamEvent{Kind: domain.StreamTurnComplete, TurnID: s.turnID})
		s.turnID++
	}
	return out
}

func (s *geminiLiveSession) flushTranscript() []domain.StreamEvent {
	text := strings.TrimSpace(s.transcript.String())
	s.transcript.Reset()
	if text == "" {
		return nil
	}
	return []domain.StreamEvent{{Kind: domain.StreamInputTranscript, TurnID: s.turnID, Text: text}}
}

func (s *geminiLiveSession) emit(ctx context.Context, ev domain.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// --- Gemini Live wire types ---

type liveClientMessage struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	ClientContent *liveClientContent `json:"clientContent,omitempty"`
	RealtimeInput *liveRealtimeInput `json:"realtimeInput,omitempty"`
}

type liveSetup struct {
	Model                    string                `json:"model"`
	GenerationConfig         *liveGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *geminiContent        `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}             `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}             `json:"outputAudioTranscription,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig liveVoiceConfig `json:"voiceConfig"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig livePrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type livePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type liveClientContent struct {
	Turns        []geminiContent `json:"turns"`
	TurnComplete bool            `json:"turnComplete"`
}

type liveRealtimeInput struct {
	MediaChunks []geminiInline `json:"mediaChunks"`
}

type liveServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	GoAway        *liveGoAway        `json:"goAway,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *geminiContent     `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *liveTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *liveTranscription `json:"outputTranscription,omitempty"`
}

type liveTranscription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type liveGoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

var _ domain.LiveConnector = (*GeminiLiveConnector)(nil)
