package capability

import (
	"context"
	"fmt"
	"strings"

	"teacher-agent/internal/domain"
)

// Clarify is the router's catch-all. With an oracle it asks a tailored
// question about the utterance, text or image; without one it returns a fixed
// prompt listing what the assistant can do. Oracle failures are returned.
type Clarify struct {
	inner   *oracleCapability
	offered []domain.CapabilityDescriptor
}

// NewClarify builds the clarify capability. offered lists the capabilities
// to mention in the fixed prompt.
func NewClarify(opts Options, offered []domain.CapabilityDescriptor) *Clarify {
	return &Clarify{inner: newOracleCapability(domain.CapabilityClarify, opts), offered: offered}
}

func (c *Clarify) Descriptor() domain.CapabilityDescriptor { return c.inner.desc }

func (c *Clarify) Invoke(ctx context.Context, inv domain.Invocation) (*domain.Reply, error) {
	if c.inner.opts.Oracle == nil || len(inv.Turns) == 0 {
		return &domain.Reply{Text: c.fixedPrompt()}, nil
	}
	return c.inner.Invoke(ctx, inv)
}

func (c *Clarify) fixedPrompt() string {
	var items []string
	for _, d := range c.offered {
		if d.Name == domain.CapabilityClarify {
			continue
		}
		items = append(items, "- "+firstSentence(d.Description))
	}
	if len(items) == 0 {
		return "Could you tell me a little more about what you need?"
	}
	return fmt.Sprintf("Could you tell me a little more about what you need? I can help with:\n%s", strings.Join(items, "\n"))
}

func firstSentence(s string) string {
	if i := strings.Index(s, ": "); i > 0 {
		return s[:i]
	}
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}
