package multiagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacher-agent/internal/domain"
)

func decideKeyword(t *testing.T, utterance string) domain.RoutingDecision {
	t.Helper()
	reg := newCatalogRegistry(t)
	d, err := NewKeywordStrategy().Decide(context.Background(), domain.RouteInput{
		Utterance:    utterance,
		Capabilities: reg.List(),
	})
	require.NoError(t, err)
	return d
}

func TestKeywordStrategy(t *testing.T) {
	tests := []struct {
		utterance string
		want      domain.CapabilityName
	}{
		{"Write a story about the monsoon in Marathi", domain.CapabilityTeachingAid},
		{"Can you draw a diagram of the water cycle?", domain.CapabilityTeachingAid},
		{"Create a lesson plan for a multi grade classroom", domain.CapabilityWorksheetPlanner},
		{"Assess reading fluency for this passage", domain.CapabilityReadingAssessment},
		{"Show me the report card and attendance of Asha", domain.CapabilityAnalytics},
		{"Let's play a crossword puzzle game", domain.CapabilityGameGenerator},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			d := decideKeyword(t, tt.utterance)
			assert.Equal(t, tt.want, d.SelectedCapability)
			assert.GreaterOrEqual(t, d.Confidence, DefaultMinConfidence)
			assert.Equal(t, "keyword", d.Strategy)
		})
	}
}

func TestKeywordStrategyConfidence(t *testing.T) {
	d := decideKeyword(t, "worksheet")
	assert.Equal(t, 1.0, d.Confidence)

	tie := decideKeyword(t, "quiz attendance")
	assert.Equal(t, 0.5, tie.Confidence)

	none := decideKeyword(t, "good morning")
	assert.Empty(t, none.SelectedCapability)
	assert.Zero(t, none.Confidence)
}

func TestKeywordMultiWordOutweighsSingle(t *testing.T) {
	// "read aloud" (2) beats "play" (1).
	d := decideKeyword(t, "play and read aloud")
	assert.Equal(t, domain.CapabilityReadingAssessment, d.SelectedCapability)
	assert.InDelta(t, 2.0/3.0, d.Confidence, 1e-9)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"grade", "5", "worksheet", "s"}, tokenize("Grade-5 worksheet's"))
	assert.Empty(t, tokenize("  ...  "))
}
