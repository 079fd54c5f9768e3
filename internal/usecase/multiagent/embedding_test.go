package multiagent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacher-agent/internal/domain"
)

// axisEmbedder maps texts onto axes by marker word.
type axisEmbedder struct {
	calls atomic.Int32
	err   error
}

func (a *axisEmbedder) Name() string { return "axis" }

func (a *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		s = strings.ToLower(s)
		switch {
		case strings.Contains(s, "alpha"):
			out[i] = []float32{1, 0.1, 0}
		case strings.Contains(s, "beta"):
			out[i] = []float32{0.1, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

var axisCatalog = []domain.CapabilityDescriptor{
	{Name: "first", Description: "Handles alpha requests"},
	{Name: "second", Description: "Handles beta requests"},
	{Name: "silent"},
}

func TestEmbeddingStrategy(t *testing.T) {
	e := &axisEmbedder{}
	s := NewEmbeddingStrategy(e)
	ctx := context.Background()

	d, err := s.Decide(ctx, domain.RouteInput{Utterance: "an ALPHA thing", Capabilities: axisCatalog})
	require.NoError(t, err)
	assert.Equal(t, domain.CapabilityName("first"), d.SelectedCapability)
	assert.InDelta(t, 1.0, d.Confidence, 1e-6)
	assert.Equal(t, "embedding", d.Strategy)

	d, err = s.Decide(ctx, domain.RouteInput{Utterance: "beta", Capabilities: axisCatalog})
	require.NoError(t, err)
	assert.Equal(t, domain.CapabilityName("second"), d.SelectedCapability)

	// Catalog embedded once, then one call per utterance.
	assert.Equal(t, int32(3), e.calls.Load())
}

func TestEmbeddingStrategyOrthogonalIsLowConfidence(t *testing.T) {
	d, err := NewEmbeddingStrategy(&axisEmbedder{}).Decide(context.Background(), domain.RouteInput{
		Utterance:    "gamma",
		Capabilities: axisCatalog,
	})
	require.NoError(t, err)
	assert.Less(t, d.Confidence, DefaultMinConfidence)
}

func TestEmbeddingStrategyError(t *testing.T) {
	_, err := NewEmbeddingStrategy(&axisEmbedder{err: domain.ErrEmbeddingFailed}).Decide(context.Background(), domain.RouteInput{
		Utterance:    "alpha",
		Capabilities: axisCatalog,
	})
	assert.True(t, errors.Is(err, domain.ErrEmbeddingFailed))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestEmbeddingStrategyNeedsText(t *testing.T) {
	emb := &axisEmbedder{}
	_, err := NewEmbeddingStrategy(emb).Decide(context.Background(), domain.RouteInput{
		Images:       []domain.Part{{MIMEType: domain.MIMEImagePNG, Data: []byte{1}}},
		Capabilities: axisCatalog,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
	assert.Zero(t, emb.calls.Load())
}
