package domain

import "context"

// CapabilityName identifies a capability in the registry.
type CapabilityName string

// Capabilities served by the agent.
const (
	CapabilityTeachingAid       CapabilityName = "localized_teaching_aid_generator"
	CapabilityWorksheetPlanner  CapabilityName = "worksheet_generator_lesson_planner"
	CapabilityReadingAssessment CapabilityName = "audio_based_reading_assessment"
	CapabilityAnalytics         CapabilityName = "database_analytics"
	CapabilityGameGenerator     CapabilityName = "educational_game_generator"
	CapabilityClarify           CapabilityName = "clarify"
)

// CapabilityDescriptor is the static description the router matches against.
type CapabilityDescriptor struct {
	Name             CapabilityName `json:"name"`
	Description      string         `json:"description"`
	Keywords         []string       `json:"keywords,omitempty"`
	InputModalities  []Modality     `json:"input_modalities"`
	OutputModalities []Modality     `json:"output_modalities"`
	// Instruction is sent with content routed to this capability.
	Instruction string `json:"-"`
}

// Invocation carries one completed utterance to a capability.
type Invocation struct {
	SessionID string
	// Turns is the current utterance: a text turn, optionally followed by an image turn.
	Turns   []ConversationTurn
	History []ConversationTurn
	Scratch map[string]any
}

// Text joins the utterance text of all turns in the invocation.
func (inv Invocation) Text() string {
	var out string
	for _, t := range inv.Turns {
		if u := t.Utterance(); u != "" {
			if out != "" {
				out += "\n"
			}
			out += u
		}
	}
	return out
}

// Attachment is a generated artifact referenced by a reply.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	URL      string `json:"url"`
}

// Reply is the terminal response of a capability.
type Reply struct {
	Text        string
	Attachments []Attachment
	Usage       Usage
}

// Capability is a specialised handler selected by the router.
type Capability interface {
	Descriptor() CapabilityDescriptor
	Invoke(ctx context.Context, inv Invocation) (*Reply, error)
}
