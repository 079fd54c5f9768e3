package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/tracer"
	"teacher-agent/internal/usecase/multiagent"
)

// Initial scratch values of a request/response session.
const (
	DefaultUserPreferences = "Educational content creator"
	HTTPSessionType        = "http_chat"
)

// DefaultChatTimeout bounds one request/response exchange.
const DefaultChatTimeout = 60 * time.Second

// ChatRequest is one request/response exchange. ImageData is base64.
type ChatRequest struct {
	SessionID     string
	Message       string
	ImageData     string
	ImageMIMEType string
}

// ChatResult is the terminal answer of an exchange.
type ChatResult struct {
	SessionID   string
	Response    string
	Capability  domain.CapabilityName
	Attachments []domain.Attachment
}

// ChatService runs request/response exchanges: it creates the session on
// first use, routes the utterance to one capability and blocks until that
// capability answers.
type ChatService struct {
	sessions *SessionStore
	router   *multiagent.Router
	bus      domain.EventBus
	timeout  time.Duration
	logger   *slog.Logger
}

// NewChatService creates a ChatService. timeout <= 0 uses DefaultChatTimeout.
func NewChatService(sessions *SessionStore, router *multiagent.Router, bus domain.EventBus, timeout time.Duration, logger *slog.Logger) *ChatService {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{sessions: sessions, router: router, bus: bus, timeout: timeout, logger: logger}
}

// Sessions exposes the store backing the service.
func (c *ChatService) Sessions() *SessionStore { return c.sessions }

// Handle runs one exchange. Validation errors wrap domain.ErrInvalidInput and
// are returned before the session or router is touched.
func (c *ChatService) Handle(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	// 1. Validate and decode at the boundary.
	turns, err := chatTurns(req)
	if err != nil {
		return nil, err
	}
	if req.SessionID != "" {
		if err := ValidateSessionID(req.SessionID); err != nil {
			return nil, err
		}
	}

	ctx, span := tracer.StartSpan(ctx, "chat.handle")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 2. Get or create the session under its lock, then route and invoke.
	id := req.SessionID
	if id == "" {
		id = NewSessionID()
	}
	span.SetAttributes(tracer.StringAttr("session.id", id))
	result := &ChatResult{SessionID: id}
	err = c.sessions.WithSessionOrCreate(ctx, domain.NamespaceHTTP, id, domain.TextOnlyModality(), initHTTPScratch, func(s *Session, created bool) error {
		if created {
			c.logger.Info("created http session", "session_id", s.ID())
		}
		c.publish(ctx, domain.EventChatRequestReceived, s.ID(), map[string]any{"has_image": req.ImageData != ""})

		decision, capability := c.router.Route(ctx, multiagent.RouteRequest{
			SessionID: s.ID(),
			Turns:     turns,
			History:   s.History(),
		})
		s.Bind(decision.SelectedCapability)
		defer s.Release()

		reply, err := c.invoke(ctx, capability, domain.Invocation{
			SessionID: s.ID(),
			Turns:     turns,
			History:   s.History(),
			Scratch:   s.ScratchSnapshot(),
		})
		if err != nil {
			c.publish(ctx, domain.EventCapabilityFailed, s.ID(), map[string]any{
				"capability": decision.SelectedCapability,
				"error":      err.Error(),
			})
			return err
		}

		// 3. Commit the exchange only once a terminal answer exists.
		for _, t := range turns {
			s.appendTurn(t)
		}
		s.appendTurn(domain.NewTextTurn(domain.RoleModel, reply.Text))
		s.AppendContext(domain.ContextEntry{UserMessage: req.Message, AgentResponse: reply.Text})

		result.Response = reply.Text
		result.Capability = decision.SelectedCapability
		result.Attachments = reply.Attachments
		c.publish(ctx, domain.EventCapabilityInvoked, s.ID(), map[string]any{
			"capability":   decision.SelectedCapability,
			"total_tokens": reply.Usage.TotalTokens,
		})
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("chat exchange failed", "session_id", id, "error", err)
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

// invoke runs the capability and converts a deadline into ErrTimeout.
func (c *ChatService) invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) (*domain.Reply, error) {
	reply, err := capability.Invoke(ctx, inv)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.NewDomainError("ChatService.Handle", domain.ErrTimeout, fmt.Sprintf("no answer within %s", c.timeout))
		}
		return nil, err
	}
	if reply == nil {
		return nil, domain.NewDomainError("ChatService.Handle", domain.ErrOracleFailure, "capability returned no reply")
	}
	return reply, nil
}

// Delete removes an http session and reports whether it existed.
func (c *ChatService) Delete(ctx context.Context, id string) bool {
	return c.sessions.Delete(ctx, domain.NamespaceHTTP, id)
}

// List returns the active http session ids.
func (c *ChatService) List() []string {
	return c.sessions.List(domain.NamespaceHTTP)
}

func (c *ChatService) publish(ctx context.Context, t domain.EventType, sessionID string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(t, sessionID, payload))
}

func initHTTPScratch(s *Session) {
	s.SetScratch(domain.ScratchConversationContext, []domain.ContextEntry{})
	s.SetScratch(domain.ScratchUserPreferences, DefaultUserPreferences)
	s.SetScratch(domain.ScratchSessionType, HTTPSessionType)
}

func chatTurns(req ChatRequest) ([]domain.ConversationTurn, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" && req.ImageData == "" {
		return nil, domain.NewDomainError("ChatService.Handle", domain.ErrInvalidInput, "Message or image is required")
	}

	var turns []domain.ConversationTurn
	if message != "" {
		turns = append(turns, domain.NewTextTurn(domain.RoleUser, req.Message))
	}
	if req.ImageData != "" {
		mime := req.ImageMIMEType
		if mime == "" {
			mime = domain.MIMEImageJPEG
		}
		if m, err := domain.ModalityForMIME(mime); err != nil || m != domain.ModalityImage {
			return nil, domain.NewDomainError("ChatService.Handle", domain.ErrInvalidInput, "Invalid image data: unsupported mime type "+mime)
		}
		data, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return nil, domain.NewDomainError("ChatService.Handle", domain.ErrInvalidInput, "Invalid image data: "+err.Error())
		}
		if len(data) == 0 {
			return nil, domain.NewDomainError("ChatService.Handle", domain.ErrInvalidInput, "Invalid image data: empty payload")
		}
		turns = append(turns, domain.NewImageTurn(mime, data))
	}
	return turns, nil
}
