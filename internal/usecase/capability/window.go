package capability

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"teacher-agent/internal/domain"
)

// TokenCounter estimates the token cost of a text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes four bytes per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// TiktokenCounter counts with a BPE encoding, falling back to the heuristic
// when the encoding cannot be loaded.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding(c.encoding); err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// imageTokenCost is charged for every inline image kept in the window.
const imageTokenCost = 258

// HistoryWindow keeps the most recent history that fits a token budget.
type HistoryWindow struct {
	counter   TokenCounter
	maxTokens int
}

// NewHistoryWindow creates a window. maxTokens <= 0 keeps everything.
func NewHistoryWindow(counter TokenCounter, maxTokens int) *HistoryWindow {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &HistoryWindow{counter: counter, maxTokens: maxTokens}
}

// Apply returns the longest suffix of history within the budget. Partial
// turns are dropped.
func (w *HistoryWindow) Apply(history []domain.ConversationTurn) []domain.ConversationTurn {
	complete := make([]domain.ConversationTurn, 0, len(history))
	for _, t := range history {
		if !t.Partial {
			complete = append(complete, t)
		}
	}
	if w == nil || w.maxTokens <= 0 {
		return complete
	}

	used := 0
	start := len(complete)
	for i := len(complete) - 1; i >= 0; i-- {
		cost := w.cost(complete[i])
		if used+cost > w.maxTokens {
			break
		}
		used += cost
		start = i
	}
	return complete[start:]
}

func (w *HistoryWindow) cost(t domain.ConversationTurn) int {
	c := w.counter.Count(t.Text)
	if t.Modality == domain.ModalityImage && len(t.Data) > 0 {
		c += imageTokenCost
	}
	return c
}
