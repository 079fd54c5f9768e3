// Package capability implements the specialised handlers the router
// delegates to.
package capability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/tracer"
)

// Options are the dependencies shared by oracle-backed capabilities.
type Options struct {
	Oracle    domain.Oracle
	Model     string
	Window    *HistoryWindow
	MaxTokens int
	Logger    *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// preparer adds capability-specific context to the system instruction.
type preparer func(ctx context.Context, inv domain.Invocation) (string, error)

// oracleCapability answers an invocation with one oracle call carrying the
// capability instruction and a windowed history.
type oracleCapability struct {
	desc    domain.CapabilityDescriptor
	opts    Options
	prepare preparer
}

func newOracleCapability(name domain.CapabilityName, opts Options) *oracleCapability {
	return &oracleCapability{desc: Descriptors()[name], opts: opts}
}

func (c *oracleCapability) Descriptor() domain.CapabilityDescriptor { return c.desc }

func (c *oracleCapability) Invoke(ctx context.Context, inv domain.Invocation) (*domain.Reply, error) {
	op := "capability." + string(c.desc.Name)
	ctx, span := tracer.StartSpan(ctx, op)
	defer span.End()
	span.SetAttributes(tracer.StringAttr("session.id", inv.SessionID))

	if c.opts.Oracle == nil {
		return nil, domain.NewDomainError(op, domain.ErrOracleFailure, "no oracle configured")
	}

	extra := ""
	if c.prepare != nil {
		var err error
		if extra, err = c.prepare(ctx, inv); err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp(op, err)
		}
	}

	resp, err := c.opts.Oracle.Generate(ctx, c.request(inv, extra))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		err := domain.NewDomainError(op, domain.ErrOracleFailure, "empty response")
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	c.opts.logger().Debug("capability answered",
		"capability", c.desc.Name,
		"session_id", inv.SessionID,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return &domain.Reply{Text: text, Usage: resp.Usage}, nil
}

func (c *oracleCapability) request(inv domain.Invocation, extra string) domain.GenerateRequest {
	turns := append(c.opts.Window.Apply(inv.History), inv.Turns...)
	return domain.GenerateRequest{
		Model:             c.opts.Model,
		SystemInstruction: systemInstruction(c.desc.Instruction, inv.Scratch, extra),
		Contents:          domain.ContentFromTurns(turns),
		MaxTokens:         c.opts.MaxTokens,
		Temperature:       0.7,
	}
}

func systemInstruction(base string, scratch map[string]any, extra string) string {
	var b strings.Builder
	b.WriteString(base)
	if prefs, ok := scratch[domain.ScratchUserPreferences].(string); ok && prefs != "" {
		fmt.Fprintf(&b, "\n\nTeacher profile: %s.", prefs)
	}
	if extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}

// NewWorksheetPlanner builds the worksheet and lesson planning capability.
func NewWorksheetPlanner(opts Options) domain.Capability {
	return newOracleCapability(domain.CapabilityWorksheetPlanner, opts)
}

// NewReadingAssessment builds the reading assessment capability.
func NewReadingAssessment(opts Options) domain.Capability {
	return newOracleCapability(domain.CapabilityReadingAssessment, opts)
}

// NewGameGenerator builds the educational game capability.
func NewGameGenerator(opts Options) domain.Capability {
	return newOracleCapability(domain.CapabilityGameGenerator, opts)
}
