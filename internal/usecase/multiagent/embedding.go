package multiagent

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"teacher-agent/internal/domain"
)

// EmbeddingStrategy ranks capabilities by cosine similarity between the
// utterance and each capability's description. Descriptor vectors are
// computed once and reused.
type EmbeddingStrategy struct {
	embedder domain.Embedder

	mu      sync.Mutex
	catalog map[domain.CapabilityName][]float32
}

// NewEmbeddingStrategy creates an embedding strategy.
func NewEmbeddingStrategy(embedder domain.Embedder) *EmbeddingStrategy {
	return &EmbeddingStrategy{embedder: embedder}
}

func (e *EmbeddingStrategy) Name() string { return "embedding" }

func (e *EmbeddingStrategy) Decide(ctx context.Context, in domain.RouteInput) (domain.RoutingDecision, error) {
	if strings.TrimSpace(in.Utterance) == "" {
		return domain.RoutingDecision{}, fmt.Errorf("embed utterance: %w: no text to embed", domain.ErrInvalidInput)
	}
	catalog, err := e.catalogVectors(ctx, in.Capabilities)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	vecs, err := e.embedder.Embed(ctx, []string{in.Utterance})
	if err != nil {
		return domain.RoutingDecision{}, fmt.Errorf("embed utterance: %w", err)
	}
	if len(vecs) != 1 {
		return domain.RoutingDecision{}, fmt.Errorf("embed utterance: %w", domain.ErrEmbeddingFailed)
	}

	d := domain.RoutingDecision{Strategy: "embedding"}
	best := -1.0
	for _, c := range in.Capabilities {
		v, ok := catalog[c.Name]
		if !ok {
			continue
		}
		if sim := cosine(vecs[0], v); sim > best {
			best = sim
			d.SelectedCapability = c.Name
		}
	}
	if d.SelectedCapability == "" {
		return d, nil
	}
	d.Confidence = math.Max(0, math.Min(1, best))
	d.InferredIntent = fmt.Sprintf("closest description (similarity %.2f)", best)
	return d, nil
}

func (e *EmbeddingStrategy) catalogVectors(ctx context.Context, caps []domain.CapabilityDescriptor) (map[domain.CapabilityName][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		missing []domain.CapabilityDescriptor
		texts   []string
	)
	for _, c := range caps {
		if _, ok := e.catalog[c.Name]; ok {
			continue
		}
		if c.Description == "" {
			continue
		}
		missing = append(missing, c)
		texts = append(texts, describe(c))
	}
	if len(missing) > 0 {
		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed capability catalog: %w", err)
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embed capability catalog: %w", domain.ErrEmbeddingFailed)
		}
		if e.catalog == nil {
			e.catalog = make(map[domain.CapabilityName][]float32, len(caps))
		}
		for i, c := range missing {
			e.catalog[c.Name] = vecs[i]
		}
	}
	out := make(map[domain.CapabilityName][]float32, len(e.catalog))
	for k, v := range e.catalog {
		out[k] = v
	}
	return out, nil
}

func describe(c domain.CapabilityDescriptor) string {
	if len(c.Keywords) == 0 {
		return c.Description
	}
	return c.Description + "\nTopics: " + strings.Join(c.Keywords, ", ")
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
