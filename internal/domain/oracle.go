package domain

import (
	"context"
	"strings"
)

// Usage tracks token consumption reported by an oracle.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Part is one piece of oracle content: text or inline binary data.
type Part struct {
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// IsInline reports whether the part carries binary data.
func (p Part) IsInline() bool { return len(p.Data) > 0 }

// Content is a role-tagged group of parts.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextContent builds a single-part text content.
func TextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// ContentFromTurns converts history turns into oracle content. Partial turns
// are skipped.
func ContentFromTurns(turns []ConversationTurn) []Content {
	out := make([]Content, 0, len(turns))
	for _, t := range turns {
		if t.Partial {
			continue
		}
		var p Part
		switch {
		case len(t.Data) > 0 && t.Modality != ModalityText:
			p = Part{MIMEType: t.MIMEType, Data: t.Data}
		case t.Text != "":
			p = Part{Text: t.Text}
		default:
			continue
		}
		// Merge consecutive turns from the same role into one content.
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Parts = append(out[n-1].Parts, p)
			continue
		}
		out = append(out, Content{Role: t.Role, Parts: []Part{p}})
	}
	return out
}

// Response modalities understood by oracles.
const (
	ResponseText  = "TEXT"
	ResponseImage = "IMAGE"
	ResponseAudio = "AUDIO"
)

// GenerateRequest is a request/response oracle call.
type GenerateRequest struct {
	Model              string
	SystemInstruction  string
	Contents           []Content
	ResponseModalities []string
	MaxTokens          int
	Temperature        float64
	JSONResponse       bool
}

// GenerateResponse is the terminal result of a request/response call.
type GenerateResponse struct {
	Model   string
	Content Content
	Usage   Usage
}

// Text concatenates all text parts.
func (r *GenerateResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// InlineParts returns all binary parts.
func (r *GenerateResponse) InlineParts() []Part {
	if r == nil {
		return nil
	}
	var out []Part
	for _, p := range r.Content.Parts {
		if p.IsInline() {
			out = append(out, p)
		}
	}
	return out
}

// StreamDelta is an incremental chunk from a streaming oracle call.
type StreamDelta struct {
	Text  string
	Usage *Usage
	Done  bool
	Err   error
}

// Oracle is the request/response generative backend.
type Oracle interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// StreamingOracle can additionally stream a single generation.
type StreamingOracle interface {
	Oracle
	Stream(ctx context.Context, req GenerateRequest) (<-chan StreamDelta, error)
}

// LiveConfig configures a duplex oracle session.
type LiveConfig struct {
	SessionID         string
	Modality          ModalityConfig
	Voice             string
	SystemInstruction string
}

// LiveSession is a long-lived duplex oracle session. Events are delivered in
// oracle emission order; the channel closes when the session ends.
type LiveSession interface {
	// SendContent commits a content unit (text or a whole image).
	SendContent(ctx context.Context, c Content) error
	// SendRealtime streams a media chunk without committing a turn.
	SendRealtime(ctx context.Context, p Part) error
	Events() <-chan StreamEvent
	Close() error
}

// LiveConnector opens duplex oracle sessions.
type LiveConnector interface {
	Connect(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}
