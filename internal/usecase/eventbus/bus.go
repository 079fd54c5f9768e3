package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"teacher-agent/internal/domain"
)

// subscriber receives events of one type, or every event when all is set.
type subscriber struct {
	id      uint64
	all     bool
	typ     domain.EventType
	handler domain.EventHandler
}

func (s subscriber) wants(t domain.EventType) bool {
	return s.all || s.typ == t
}

// Bus is an in-process publish/subscribe hub. Handlers run asynchronously on
// their own goroutine with a context detached from the publisher's deadline.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID atomic.Uint64
	closed atomic.Bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Publish delivers event to every matching subscriber. Publishing on a closed
// bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(event.Type) {
			continue
		}
		b.wg.Add(1)
		go b.run(ctx, s.handler, event)
	}
}

func (b *Bus) run(ctx context.Context, h domain.EventHandler, event domain.Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	h(ctx, event)
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(subscriber{typ: eventType, handler: handler})
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(subscriber{all: true, handler: handler})
}

func (b *Bus) add(s subscriber) func() {
	s.id = b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.subs {
				if b.subs[i].id == s.id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Close stops accepting events and waits for running handlers. It is
// idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
