package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/usecase/multiagent"
)

// TurnState is the coordinator's view of the current oracle turn.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingOracle
	StateStreaming
	StateTurnComplete
	StateInterrupted
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingOracle:
		return "AWAITING_ORACLE"
	case StateStreaming:
		return "STREAMING_RESPONSE"
	case StateTurnComplete:
		return "TURN_COMPLETE"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// ClientConn is the client side of a streaming connection. Receive must
// return domain.ErrTransportClosed (possibly wrapped) once the peer is gone.
type ClientConn interface {
	Receive(ctx context.Context) (domain.ClientMessage, error)
	Send(ctx context.Context, msg domain.ServerMessage) error
}

// TurnCoordinator pumps one streaming session in both directions. The two
// directions run as sibling goroutines; the first to stop cancels the other.
type TurnCoordinator struct {
	session *Session
	live    domain.LiveSession
	conn    ClientConn
	router  *multiagent.Router
	bus     domain.EventBus
	logger  *slog.Logger

	sendMu sync.Mutex

	mu         sync.Mutex
	state      TurnState
	lastClosed domain.TurnID
	buffer     strings.Builder
	// routed holds the capabilities bound since the last terminal marker. The
	// first belongs to the turn in flight; a later one was routed on a barge-in
	// and owns the floor for the next turn.
	routed []domain.CapabilityName
}

// NewTurnCoordinator wires a coordinator for one connection.
func NewTurnCoordinator(session *Session, live domain.LiveSession, conn ClientConn, router *multiagent.Router, bus domain.EventBus, logger *slog.Logger) *TurnCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnCoordinator{
		session: session,
		live:    live,
		conn:    conn,
		router:  router,
		bus:     bus,
		logger:  logger.With("session_id", session.ID()),
	}
}

// State returns the current turn state.
func (c *TurnCoordinator) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run blocks until either direction stops. A closed transport or a cancelled
// parent context is a normal end and yields nil.
func (c *TurnCoordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.clientToOracle(gctx) })
	g.Go(func() error { return c.oracleToClient(gctx) })

	err := g.Wait()
	if err == nil || errors.Is(err, domain.ErrTransportClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// clientToOracle forwards client messages in arrival order. Only transport
// failures end it; a bad message is rejected in-band.
func (c *TurnCoordinator) clientToOracle(ctx context.Context) error {
	for {
		msg, err := c.conn.Receive(ctx)
		if err != nil {
			return err
		}
		if err := c.forwardClient(ctx, msg); err != nil {
			if errors.Is(err, domain.ErrTransportClosed) || ctx.Err() != nil {
				return err
			}
			c.logger.Warn("client message rejected", "mime_type", msg.MIMEType, "error", err)
			c.publish(ctx, domain.EventStreamRejected, map[string]any{"mime_type": msg.MIMEType, "error": err.Error()})
			if sendErr := c.send(ctx, domain.ErrorMessage(rejectDetail(err))); sendErr != nil {
				return sendErr
			}
		}
	}
}

func (c *TurnCoordinator) forwardClient(ctx context.Context, msg domain.ClientMessage) error {
	modality, err := domain.ModalityForMIME(msg.MIMEType)
	if err != nil {
		return domain.NewDomainError("TurnCoordinator.forwardClient", domain.ErrUnsupportedModality, "unsupported mime_type "+msg.MIMEType)
	}

	switch modality {
	case domain.ModalityText:
		turn := domain.NewTextTurn(domain.ParseRole(msg.Role), msg.Data)
		content := domain.Content{Role: turn.Role, Parts: []domain.Part{{Text: msg.Data}}}
		if turn.Role == domain.RoleUser {
			content.Parts = c.withRoute(ctx, []domain.ConversationTurn{turn}, content.Parts)
		}
		if err := c.live.SendContent(ctx, content); err != nil {
			return err
		}
		c.session.appendTurn(turn)

	case domain.ModalityAudio:
		if !c.session.Modality().AcceptsAudio {
			return domain.NewDomainError("TurnCoordinator.forwardClient", domain.ErrUnsupportedModality, "audio is disabled for this session")
		}
		data, err := decodeBinary(msg.Data)
		if err != nil {
			return err
		}
		if err := c.live.SendRealtime(ctx, domain.Part{MIMEType: msg.MIMEType, Data: data}); err != nil {
			return err
		}

	case domain.ModalityImage:
		data, err := decodeBinary(msg.Data)
		if err != nil {
			return err
		}
		turn := domain.NewImageTurn(msg.MIMEType, data)
		parts := c.withRoute(ctx, []domain.ConversationTurn{turn}, []domain.Part{{MIMEType: msg.MIMEType, Data: data}})
		if err := c.live.SendContent(ctx, domain.Content{Role: domain.RoleUser, Parts: parts}); err != nil {
			return err
		}
		c.session.appendTurn(turn)
	}

	c.transition(StateIdle, StateAwaitingOracle)
	return nil
}

// withRoute routes a completed utterance, binds the chosen capability and
// prefixes its instruction to the content sent to the oracle.
func (c *TurnCoordinator) withRoute(ctx context.Context, turns []domain.ConversationTurn, parts []domain.Part) []domain.Part {
	capability := c.route(ctx, turns)
	instruction := capability.Descriptor().Instruction
	if instruction == "" {
		return parts
	}
	prefix := domain.Part{Text: fmt.Sprintf("[%s] %s", capability.Descriptor().Name, instruction)}
	return append([]domain.Part{prefix}, parts...)
}

func (c *TurnCoordinator) route(ctx context.Context, turns []domain.ConversationTurn) domain.Capability {
	decision, capability := c.router.Route(ctx, multiagent.RouteRequest{
		SessionID: c.session.ID(),
		Turns:     turns,
		History:   c.session.History(),
	})
	c.mu.Lock()
	c.session.Bind(decision.SelectedCapability)
	c.routed = append(c.routed, decision.SelectedCapability)
	c.mu.Unlock()
	return capability
}

// oracleToClient relays oracle events in emission order. Fragments of a
// turn that already ended are dropped by TurnID.
func (c *TurnCoordinator) oracleToClient(ctx context.Context) error {
	events := c.live.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return domain.NewDomainError("TurnCoordinator.oracleToClient", domain.ErrTransportClosed, "oracle stream ended")
			}
			if err := c.relay(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *TurnCoordinator) relay(ctx context.Context, ev domain.StreamEvent) error {
	if ev.Kind == domain.StreamError {
		detail := "oracle error"
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		c.logger.Warn("oracle error event", "error", detail)
		c.publish(ctx, domain.EventOracleError, map[string]any{"error": detail})
		return c.send(ctx, domain.ErrorMessage(detail))
	}

	if c.isStale(ev.TurnID) {
		c.logger.Debug("dropping stale fragment", "turn_id", ev.TurnID, "kind", ev.Kind)
		return nil
	}

	switch ev.Kind {
	case domain.StreamPartialText, domain.StreamFinalText:
		c.accumulate(ev)
		return c.send(ctx, domain.ContentMessage(domain.MIMETextPlain, ev.Text))

	case domain.StreamAudioChunk:
		if !strings.HasPrefix(ev.MIMEType, domain.MIMEAudioPCM) {
			return nil
		}
		c.markStreaming()
		return c.send(ctx, domain.ContentMessage(ev.MIMEType, base64.StdEncoding.EncodeToString(ev.Data)))

	case domain.StreamImageChunk:
		if !strings.HasPrefix(ev.MIMEType, "image/") {
			return nil
		}
		c.markStreaming()
		return c.send(ctx, domain.ContentMessage(ev.MIMEType, base64.StdEncoding.EncodeToString(ev.Data)))

	case domain.StreamInputTranscript:
		if !ev.Partial && strings.TrimSpace(ev.Text) != "" {
			turn := domain.ConversationTurn{Role: domain.RoleUser, Modality: domain.ModalityAudio, MIMEType: domain.MIMEAudioPCM, Text: ev.Text}
			c.route(ctx, []domain.ConversationTurn{turn})
			c.session.appendTurn(turn)
		}
		return nil

	case domain.StreamTurnComplete, domain.StreamInterrupted:
		return c.closeTurn(ctx, ev)
	}
	return nil
}

func (c *TurnCoordinator) isStale(id domain.TurnID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id <= c.lastClosed
}

func (c *TurnCoordinator) accumulate(ev domain.StreamEvent) {
	c.mu.Lock()
	if ev.Kind == domain.StreamFinalText {
		c.buffer.Reset()
	}
	c.buffer.WriteString(ev.Text)
	c.mu.Unlock()
	c.markStreaming()
}

func (c *TurnCoordinator) markStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle || c.state == StateAwaitingOracle {
		c.setStateLocked(StateStreaming)
	}
}

// closeTurn handles the first terminal marker of a turn. Later markers for
// the same TurnID never reach here because isStale filters them.
func (c *TurnCoordinator) closeTurn(ctx context.Context, ev domain.StreamEvent) error {
	interrupted := ev.Kind == domain.StreamInterrupted

	c.mu.Lock()
	c.lastClosed = ev.TurnID
	text := c.buffer.String()
	c.buffer.Reset()
	if interrupted {
		c.setStateLocked(StateInterrupted)
	} else {
		c.setStateLocked(StateTurnComplete)
	}
	var capability domain.CapabilityName
	if len(c.routed) > 0 {
		capability = c.routed[0]
	}
	if n := len(c.routed); n > 1 {
		c.routed = []domain.CapabilityName{c.routed[n-1]}
	} else {
		c.session.Release()
		c.routed = nil
	}
	c.mu.Unlock()

	eventType := domain.EventTurnCompleted
	if interrupted {
		eventType = domain.EventTurnInterrupted
	} else if strings.TrimSpace(text) != "" {
		c.session.appendTurn(domain.NewTextTurn(domain.RoleModel, text))
	}
	c.publish(ctx, eventType, map[string]any{"turn_id": uint64(ev.TurnID), "capability": capability})

	err := c.send(ctx, domain.StatusMessage(!interrupted, interrupted))

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
	return err
}

func (c *TurnCoordinator) transition(from, to TurnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == from {
		c.setStateLocked(to)
	}
}

func (c *TurnCoordinator) setStateLocked(s TurnState) {
	if c.state != s {
		c.logger.Debug("turn state", "from", c.state, "to", s)
		c.state = s
	}
}

func (c *TurnCoordinator) send(ctx context.Context, msg domain.ServerMessage) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.Send(ctx, msg)
}

func (c *TurnCoordinator) publish(ctx context.Context, t domain.EventType, payload map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(t, c.session.ID(), payload))
}

func decodeBinary(data string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, domain.NewDomainError("decodeBinary", domain.ErrInvalidInput, "data is not valid base64")
	}
	return b, nil
}

func rejectDetail(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}
