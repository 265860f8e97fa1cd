package events

import (
	"context"
	"log/slog"
	"sync"
)

type subscription struct {
	pattern string
	name    string
	handler Handler
}

// MemoryBus delivers events synchronously to in-process subscribers. It keeps
// the last published events for inspection.
type MemoryBus struct {
	mu        sync.RWMutex
	subs      []subscription
	published []Event
	log       *slog.Logger
}

func NewMemoryBus(log *slog.Logger) *MemoryBus {
	return &MemoryBus{log: log.With("component", "event_bus")}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	if len(b.published) > 1000 {
		b.published = b.published[len(b.published)-1000:]
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !MatchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			b.log.Warn("event handler failed", "consumer", s.name, "type", event.Type, "error", err)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, name: consumerName, handler: handler})
	return nil
}

// Published returns a copy of the retained events.
func (b *MemoryBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.published))
	copy(out, b.published)
	return out
}

func (b *MemoryBus) Close() {}

func (b *MemoryBus) Health() error { return nil }
