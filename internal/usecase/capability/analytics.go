package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"teacher-agent/internal/domain"
)

// NewAnalytics builds the student records capability. Each invocation looks
// up snapshots for the request and hands them to the oracle as context.
func NewAnalytics(opts Options, directory domain.StudentDirectory) domain.Capability {
	c := newOracleCapability(domain.CapabilityAnalytics, opts)
	c.prepare = func(ctx context.Context, inv domain.Invocation) (string, error) {
		if directory == nil {
			return "", domain.NewDomainError("analytics.prepare", domain.ErrRecordStore, "no student records configured")
		}
		snaps, err := directory.Snapshot(ctx, inv.Text())
		if err != nil {
			return "", fmt.Errorf("student snapshot: %w", err)
		}
		return recordsContext(snaps)
	}
	return c
}

func recordsContext(snaps []domain.StudentSnapshot) (string, error) {
	if len(snaps) == 0 {
		return "Student records: no matching student was found. Ask the teacher for the student's full name.", nil
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshots: %w", err)
	}
	return "Student records (JSON):\n" + string(data), nil
}
