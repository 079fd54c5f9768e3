package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/tracer"
	"teacher-agent/internal/usecase/multiagent"
)

// DefaultVoice is the prebuilt voice used for spoken responses.
const DefaultVoice = "Puck"

// StreamOptions are the connection flags fixed at session start.
type StreamOptions struct {
	IsAudio        bool
	AudioInputOnly bool
}

// LiveService owns streaming sessions: one stream session, one oracle live
// session and one TurnCoordinator per accepted connection.
type LiveService struct {
	sessions  *SessionStore
	router    *multiagent.Router
	connector domain.LiveConnector
	voice     string
	bus       domain.EventBus
	logger    *slog.Logger
}

// NewLiveService creates a LiveService.
func NewLiveService(sessions *SessionStore, router *multiagent.Router, connector domain.LiveConnector, voice string, bus domain.EventBus, logger *slog.Logger) *LiveService {
	if voice == "" {
		voice = DefaultVoice
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveService{sessions: sessions, router: router, connector: connector, voice: voice, bus: bus, logger: logger}
}

// Exists reports whether a live session with id is already connected.
func (l *LiveService) Exists(id string) bool {
	_, err := l.sessions.Get(domain.NamespaceStream, id)
	return err == nil
}

// Serve runs a streaming session over conn until either side disconnects.
// The stream session and the oracle session are torn down before it returns.
func (l *LiveService) Serve(ctx context.Context, sessionID string, opts StreamOptions, conn ClientConn) error {
	ctx, span := tracer.StartSpan(ctx, "live.serve")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("session.id", sessionID),
		tracer.BoolAttr("stream.is_audio", opts.IsAudio),
		tracer.BoolAttr("stream.audio_input_only", opts.AudioInputOnly),
	)

	modality := domain.NewStreamModality(opts.IsAudio, opts.AudioInputOnly)
	session, err := l.sessions.Create(ctx, domain.NamespaceStream, sessionID, modality)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	defer l.sessions.Delete(context.WithoutCancel(ctx), domain.NamespaceStream, session.ID())

	live, err := l.connector.Connect(ctx, domain.LiveConfig{
		SessionID:         session.ID(),
		Modality:          modality,
		Voice:             l.voice,
		SystemInstruction: RootInstruction(l.router.Registry().List()),
	})
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("connect live oracle: %w", err)
	}
	defer func() {
		if cerr := live.Close(); cerr != nil {
			l.logger.Debug("live session close", "session_id", session.ID(), "error", cerr)
		}
	}()

	l.publish(ctx, domain.EventConnectionOpened, session.ID(), map[string]any{
		"accepts_audio":        modality.AcceptsAudio,
		"audio_output_enabled": modality.AudioOutputEnabled,
	})
	l.logger.Info("client connected", "session_id", session.ID(), "audio", opts.IsAudio, "audio_input_only", opts.AudioInputOnly)

	coordinator := NewTurnCoordinator(session, live, conn, l.router, l.bus, l.logger)
	err = coordinator.Run(ctx)

	l.publish(context.WithoutCancel(ctx), domain.EventConnectionClosed, session.ID(), nil)
	l.logger.Info("client disconnected", "session_id", session.ID())
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

func (l *LiveService) publish(ctx context.Context, t domain.EventType, sessionID string, payload map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(ctx, domain.NewEvent(t, sessionID, payload))
}

// RootInstruction is the system instruction of a live session. The per-turn
// capability instruction travels with each routed content unit.
func RootInstruction(caps []domain.CapabilityDescriptor) string {
	var b strings.Builder
	b.WriteString("You are a teaching assistant for school teachers. Each request starts with a bracketed capability name ")
	b.WriteString("and its instructions; follow them for that request only. Available capabilities:\n")
	for _, c := range caps {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("Answer in the language the teacher uses. Keep spoken answers short.")
	return b.String()
}
