package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"teacher-agent/internal/domain"
)

// TurnConnector turns any streaming oracle into a duplex live session. Each
// committed content unit starts a new streamed turn; a content unit that
// arrives while a turn is in flight cancels it and reports it as interrupted.
// Realtime media is not supported.
type TurnConnector struct {
	oracle domain.StreamingOracle
	model  string
	logger *slog.Logger
}

// NewTurnConnector creates a TurnConnector. An empty model uses the oracle's
// default.
func NewTurnConnector(oracle domain.StreamingOracle, model string, logger *slog.Logger) *TurnConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnConnector{oracle: oracle, model: model, logger: logger}
}

// Connect implements domain.LiveConnector.
func (t *TurnConnector) Connect(_ context.Context, cfg domain.LiveConfig) (domain.LiveSession, error) {
	if t.oracle == nil {
		return nil, domain.NewSubSystemError("oracle", "TurnConnector.Connect", domain.ErrOracleFailure, "no streaming oracle configured")
	}
	if cfg.Modality.AudioOutputEnabled {
		t.logger.Warn("turn-based live session cannot speak; answering in text", "session_id", cfg.SessionID, "oracle", t.oracle.Name())
	}

	runCtx, stop := context.WithCancel(context.Background())
	return &turnSession{
		oracle: t.oracle,
		model:  t.model,
		system: cfg.SystemInstruction,
		events: make(chan domain.StreamEvent, liveEventBuffer),
		runCtx: runCtx,
		stop:   stop,
		nextID: 1,
		logger: t.logger.With("session_id", cfg.SessionID),
	}, nil
}

type turnSession struct {
	oracle domain.StreamingOracle
	model  string
	system string
	events chan domain.StreamEvent
	runCtx context.Context
	stop   context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex // serialises turn start and Close
	nextID domain.TurnID
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	histMu  sync.Mutex
	history []domain.Content
}

func (s *turnSession) SendContent(ctx context.Context, c domain.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewSubSystemError("oracle", "turnSession.SendContent", domain.ErrTransportClosed, "session closed")
	}

	s.interruptLocked()

	s.histMu.Lock()
	s.history = append(s.history, c)
	contents := make([]domain.Content, len(s.history))
	copy(contents, s.history)
	s.histMu.Unlock()

	id := s.nextID
	s.nextID++
	turnCtx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	req := domain.GenerateRequest{Model: s.model, SystemInstruction: s.system, Contents: contents}
	go s.runTurn(turnCtx, id, req, done)
	return nil
}

func (s *turnSession) SendRealtime(context.Context, domain.Part) error {
	return domain.NewDomainError("turnSession.SendRealtime", domain.ErrUnsupportedModality,
		fmt.Sprintf("oracle %s does not accept realtime media", s.oracle.Name()))
}

func (s *turnSession) Events() <-chan domain.StreamEvent { return s.events }

func (s *turnSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	s.interruptLocked()
	close(s.events)
	return nil
}

// interruptLocked cancels the in-flight turn and waits for its goroutine so
// that its terminal marker is emitted before anything of the next turn.
func (s *turnSession) interruptLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *turnSession) runTurn(ctx context.Context, id domain.TurnID, req domain.GenerateRequest, done chan struct{}) {
	defer close(done)

	deltas, err := s.oracle.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			s.emit(domain.StreamEvent{Kind: domain.StreamInterrupted, TurnID: id})
			return
		}
		s.logger.Warn("oracle stream failed", "turn_id", id, "error", err)
		s.emit(domain.StreamEvent{Kind: domain.StreamError, TurnID: id, Err: err})
		s.emit(domain.StreamEvent{Kind: domain.StreamTurnComplete, TurnID: id})
		return
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			s.emit(domain.StreamEvent{Kind: domain.StreamInterrupted, TurnID: id})
			return
		case d, ok := <-deltas:
			if !ok {
				if ctx.Err() != nil {
					s.emit(domain.StreamEvent{Kind: domain.StreamInterrupted, TurnID: id})
					return
				}
				s.finishTurn(id, text.String())
				return
			}
			if d.Err != nil {
				s.emit(domain.StreamEvent{Kind: domain.StreamError, TurnID: id, Err: d.Err})
			}
			if d.Text != "" {
				text.WriteString(d.Text)
				s.emit(domain.StreamEvent{Kind: domain.StreamPartialText, TurnID: id, Text: d.Text, Partial: true})
			}
			if d.Done {
				s.finishTurn(id, text.String())
				return
			}
		}
	}
}

// finishTurn records the answer for the next turn's context. The text already
// reached the consumer as partial fragments.
func (s *turnSession) finishTurn(id domain.TurnID, text string) {
	if text != "" {
		s.histMu.Lock()
		s.history = append(s.history, domain.TextContent(domain.RoleModel, text))
		s.histMu.Unlock()
	}
	s.emit(domain.StreamEvent{Kind: domain.StreamTurnComplete, TurnID: id})
}

// emit delivers an event unless the session has been closed.
func (s *turnSession) emit(ev domain.StreamEvent) {
	select {
	case s.events <- ev:
	case <-s.runCtx.Done():
	}
}

var _ domain.LiveConnector = (*TurnConnector)(nil)
