package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"teacher-agent/internal/domain"
)

type cacheEntry struct {
	key uint64
	vec []float32
}

// Cached wraps an embedder with a per-text LRU cache. Batch calls embed only
// the texts that miss.
type Cached struct {
	inner   domain.Embedder
	maxSize int

	mu    sync.Mutex
	index map[uint64]*list.Element
	order *list.List // most recently used at the back
}

var _ domain.Embedder = (*Cached)(nil)

// NewCached wraps inner. maxSize <= 0 returns inner unchanged.
func NewCached(inner domain.Embedder, maxSize int) domain.Embedder {
	if maxSize <= 0 {
		return inner
	}
	return &Cached{
		inner:   inner,
		maxSize: maxSize,
		index:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))

	var (
		missTexts []string
		missIdx   []int
	)
	c.mu.Lock()
	for i, t := range texts {
		keys[i] = hashText(t)
		if el, ok := c.index[keys[i]]; ok {
			c.order.MoveToBack(el)
			out[i] = el.Value.(*cacheEntry).vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missIdx {
		if j >= len(vecs) {
			break
		}
		out[i] = vecs[j]
		c.put(keys[i], vecs[j])
	}
	return out, nil
}

func (c *Cached) put(key uint64, vec []float32) {
	if el, ok := c.index[key]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToBack(el)
		return
	}
	c.index[key] = c.order.PushBack(&cacheEntry{key: key, vec: vec})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
