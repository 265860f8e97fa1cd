package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincasdesk/platform/internal/shared/config"
)

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for events matching a pattern such as "case.*"
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus returns the KurrentDB bus when enabled and reachable, the
// in-process bus otherwise.
func NewEventBus(ctx context.Context, cfg config.KurrentDBConfig, log *slog.Logger) (EventBus, string, error) {
	if !cfg.Enabled {
		return NewMemoryBus(log), "memory", nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bus, err := NewBus(timeoutCtx, cfg, log)
	if err != nil {
		return nil, "", err
	}
	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, "", fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	return bus, "kurrentdb", nil
}

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
