package domain

import "context"

// RoutingDecision is the ephemeral outcome of routing one completed utterance.
type RoutingDecision struct {
	InputModality      Modality       `json:"input_modality"`
	InferredIntent     string         `json:"inferred_intent"`
	SelectedCapability CapabilityName `json:"selected_capability"`
	Confidence         float64        `json:"confidence"`
	Strategy           string         `json:"strategy"`
	Fallback           bool           `json:"fallback,omitempty"`
}

// RouteInput is what a routing strategy sees. Modality is deliberately absent:
// strategies decide on content and history only. Images carries the inline
// images of the utterance for strategies that can look at them; Utterance may
// be empty when the user only sent an image.
type RouteInput struct {
	SessionID    string
	Utterance    string
	Images       []Part
	History      []ConversationTurn
	Capabilities []CapabilityDescriptor
}

// RoutingStrategy scores an utterance against the capability catalog.
type RoutingStrategy interface {
	Name() string
	Decide(ctx context.Context, in RouteInput) (RoutingDecision, error)
}
