package multiagent

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/tracer"
)

// DefaultMinConfidence is the threshold below which the router falls back to
// the default capability.
const DefaultMinConfidence = 0.55

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RouteRequest is one completed utterance plus the session history before it.
type RouteRequest struct {
	SessionID string
	Turns     []domain.ConversationTurn
	History   []domain.ConversationTurn
}

// Router selects exactly one capability per completed utterance. It never
// fails: strategy errors, unknown names and low confidence all resolve to the
// registry default.
type Router struct {
	registry      *Registry
	strategy      domain.RoutingStrategy
	minConfidence float64
	bus           domain.EventBus
	logger        *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMinConfidence overrides DefaultMinConfidence.
func WithMinConfidence(v float64) RouterOption {
	return func(r *Router) { r.minConfidence = v }
}

// WithEventBus publishes a route.selected event per decision.
func WithEventBus(bus domain.EventBus) RouterOption {
	return func(r *Router) { r.bus = bus }
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router over registry using strategy.
func NewRouter(registry *Registry, strategy domain.RoutingStrategy, opts ...RouterOption) *Router {
	r := &Router{
		registry:      registry,
		strategy:      strategy,
		minConfidence: DefaultMinConfidence,
		logger:        discardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Registry returns the capability registry the router selects from.
func (r *Router) Registry() *Registry { return r.registry }

// Route picks the capability for req. Partial turns are ignored.
func (r *Router) Route(ctx context.Context, req RouteRequest) (domain.RoutingDecision, domain.Capability) {
	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()

	modality := inputModality(req.Turns)
	utterance := utteranceOf(req.Turns)
	images := imagesOf(req.Turns)
	if utterance == "" {
		// Image-only or silent input: the latest thing the user said gives context.
		utterance = lastUserText(req.History)
	}

	decision := domain.RoutingDecision{InputModality: modality, Strategy: r.strategy.Name()}
	if utterance == "" && len(images) == 0 {
		decision = r.fallback(decision, "no content to infer intent from")
	} else {
		d, err := r.strategy.Decide(ctx, domain.RouteInput{
			SessionID:    req.SessionID,
			Utterance:    utterance,
			Images:       images,
			History:      req.History,
			Capabilities: r.registry.List(),
		})
		switch {
		case err != nil:
			r.logger.Warn("routing strategy failed, using default",
				"strategy", r.strategy.Name(), "session_id", req.SessionID, "error", err)
			decision = r.fallback(decision, "strategy error: "+err.Error())
		case d.SelectedCapability == "" || !r.registry.Has(d.SelectedCapability):
			decision.Confidence = d.Confidence
			decision = r.fallback(decision, "no capability matched")
		case d.Confidence < r.minConfidence:
			decision.Confidence = d.Confidence
			decision = r.fallback(decision, "ambiguous intent: "+d.InferredIntent)
		default:
			decision.SelectedCapability = d.SelectedCapability
			decision.Confidence = d.Confidence
			decision.InferredIntent = d.InferredIntent
			if d.Strategy != "" {
				decision.Strategy = d.Strategy
			}
		}
	}
	decision.InputModality = modality

	capability, err := r.registry.Get(decision.SelectedCapability)
	if err != nil {
		capability = r.registry.Default()
	}

	span.SetAttributes(
		tracer.StringAttr("route.capability", string(decision.SelectedCapability)),
		tracer.StringAttr("route.strategy", decision.Strategy),
		tracer.Float64Attr("route.confidence", decision.Confidence),
		tracer.BoolAttr("route.fallback", decision.Fallback),
	)
	r.logger.Debug("route selected",
		"session_id", req.SessionID,
		"capability", decision.SelectedCapability,
		"confidence", decision.Confidence,
		"modality", modality,
		"fallback", decision.Fallback,
	)
	if r.bus != nil {
		r.bus.Publish(ctx, domain.NewEvent(domain.EventRouteSelected, req.SessionID, decision))
	}
	return decision, capability
}

func (r *Router) fallback(d domain.RoutingDecision, why string) domain.RoutingDecision {
	d.SelectedCapability = r.registry.DefaultName()
	d.InferredIntent = why
	d.Fallback = true
	return d
}

func inputModality(turns []domain.ConversationTurn) domain.Modality {
	m := domain.ModalityText
	for _, t := range turns {
		if t.Partial {
			continue
		}
		switch t.Modality {
		case domain.ModalityImage:
			return domain.ModalityImage
		case domain.ModalityAudio:
			m = domain.ModalityAudio
		}
	}
	return m
}

func utteranceOf(turns []domain.ConversationTurn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Partial {
			continue
		}
		if u := t.Utterance(); u != "" {
			parts = append(parts, u)
		}
	}
	return strings.Join(parts, "\n")
}

func imagesOf(turns []domain.ConversationTurn) []domain.Part {
	var out []domain.Part
	for _, t := range turns {
		if t.Partial || t.Modality != domain.ModalityImage || len(t.Data) == 0 {
			continue
		}
		out = append(out, domain.Part{MIMEType: t.MIMEType, Data: t.Data})
	}
	return out
}

func lastUserText(history []domain.ConversationTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role == domain.RoleUser && !t.Partial {
			if u := t.Utterance(); u != "" {
				return u
			}
		}
	}
	return ""
}

// ChainStrategy asks each strategy in turn and returns the first decision
// reaching the threshold, or the most confident one otherwise.
type ChainStrategy struct {
	strategies []domain.RoutingStrategy
	threshold  float64
	logger     *slog.Logger
}

// NewChainStrategy creates a chain over strategies.
func NewChainStrategy(threshold float64, logger *slog.Logger, strategies ...domain.RoutingStrategy) *ChainStrategy {
	if logger == nil {
		logger = discardLogger()
	}
	return &ChainStrategy{strategies: strategies, threshold: threshold, logger: logger}
}

func (c *ChainStrategy) Name() string { return "chain" }

func (c *ChainStrategy) Decide(ctx context.Context, in domain.RouteInput) (domain.RoutingDecision, error) {
	var (
		best    domain.RoutingDecision
		lastErr error
		found   bool
	)
	for _, s := range c.strategies {
		d, err := s.Decide(ctx, in)
		if err != nil {
			c.logger.Debug("chain strategy failed", "strategy", s.Name(), "error", err)
			lastErr = err
			continue
		}
		if d.Strategy == "" {
			d.Strategy = s.Name()
		}
		if d.SelectedCapability != "" && d.Confidence >= c.threshold {
			return d, nil
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	if !found && lastErr != nil {
		return domain.RoutingDecision{}, lastErr
	}
	return best, nil
}
