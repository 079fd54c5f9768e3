package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"teacher-agent/internal/domain"
)

// classifierHistoryTurns bounds how much history the classifier sees.
const classifierHistoryTurns = 6

// ClassifierStrategy asks an oracle to pick a capability and validates the
// JSON answer against a schema whose enum is the capability catalog.
type ClassifierStrategy struct {
	oracle domain.Oracle
	model  string
}

// NewClassifierStrategy creates a classifier backed by oracle. model may be
// empty to use the oracle default.
func NewClassifierStrategy(oracle domain.Oracle, model string) *ClassifierStrategy {
	return &ClassifierStrategy{oracle: oracle, model: model}
}

func (c *ClassifierStrategy) Name() string { return "classifier" }

type classifierAnswer struct {
	Capability string  `json:"capability"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (c *ClassifierStrategy) Decide(ctx context.Context, in domain.RouteInput) (domain.RoutingDecision, error) {
	if in.Utterance == "" && len(in.Images) == 0 {
		return domain.RoutingDecision{}, fmt.Errorf("classify: %w: empty utterance", domain.ErrInvalidInput)
	}
	schema, err := classifierSchema(in.Capabilities)
	if err != nil {
		return domain.RoutingDecision{}, err
	}

	contents := domain.ContentFromTurns(textOnly(tail(in.History, classifierHistoryTurns)))
	contents = append(contents, utteranceContent(in))

	resp, err := c.oracle.Generate(ctx, domain.GenerateRequest{
		Model:             c.model,
		SystemInstruction: classifierInstruction(in.Capabilities),
		Contents:          contents,
		JSONResponse:      true,
		Temperature:       0,
		MaxTokens:         256,
	})
	if err != nil {
		return domain.RoutingDecision{}, fmt.Errorf("classify: %w", err)
	}

	raw := stripCodeFences(resp.Text())
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return domain.RoutingDecision{}, fmt.Errorf("classify: parse answer: %w", err)
	}
	if result := schema.Validate(generic); !result.IsValid() {
		return domain.RoutingDecision{}, fmt.Errorf("classify: answer does not match schema: %s", result.Error())
	}

	var ans classifierAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return domain.RoutingDecision{}, fmt.Errorf("classify: decode answer: %w", err)
	}
	return domain.RoutingDecision{
		SelectedCapability: domain.CapabilityName(ans.Capability),
		Confidence:         ans.Confidence,
		InferredIntent:     ans.Rationale,
		Strategy:           "classifier",
	}, nil
}

// utteranceContent is the user's request with its images sent inline.
func utteranceContent(in domain.RouteInput) domain.Content {
	c := domain.Content{Role: domain.RoleUser}
	if in.Utterance != "" {
		c.Parts = append(c.Parts, domain.Part{Text: in.Utterance})
	}
	c.Parts = append(c.Parts, in.Images...)
	return c
}

func classifierSchema(caps []domain.CapabilityDescriptor) (*jsonschema.Schema, error) {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c.Name))
	}
	doc := map[string]any{
		"type":     "object",
		"required": []string{"capability", "confidence"},
		"properties": map[string]any{
			"capability": map[string]any{"type": "string", "enum": names},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"rationale":  map[string]any{"type": "string"},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile classifier schema: %w", err)
	}
	return schema, nil
}

func classifierInstruction(caps []domain.CapabilityDescriptor) string {
	var b strings.Builder
	b.WriteString("You route a teacher's request to exactly one capability. ")
	b.WriteString("Decide on the content and intent of the request, never on whether it arrived as text, audio or an image.\n\nCapabilities:\n")
	for _, c := range caps {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("\nAnswer with JSON only: {\"capability\": <name>, \"confidence\": <0..1>, \"rationale\": <short reason>}.")
	return b.String()
}

var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

func tail(turns []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func textOnly(turns []domain.ConversationTurn) []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Utterance() != "" {
			out = append(out, domain.ConversationTurn{Role: t.Role, Modality: domain.ModalityText, Text: t.Text})
		}
	}
	return out
}
