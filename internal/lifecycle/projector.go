package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fincasdesk/platform/internal/shared/events"
	"github.com/fincasdesk/platform/internal/shared/metrics"
)

// MetricsProjector turns case events from the bus into counters
type MetricsProjector struct {
	bus events.EventBus
	log *slog.Logger
}

func NewMetricsProjector(bus events.EventBus, log *slog.Logger) *MetricsProjector {
	return &MetricsProjector{bus: bus, log: log.With("component", "metrics_projector")}
}

// Start subscribes to every case event
func (p *MetricsProjector) Start(ctx context.Context) error {
	return p.bus.Subscribe(ctx, "case.*", "metrics-projector", p.Handle)
}

// Handle counts one event. Status changes are read from the event payload,
// which is a map both in process and after a round trip through the store.
func (p *MetricsProjector) Handle(_ context.Context, event events.Event) error {
	metrics.RecordCaseEvent(strings.TrimPrefix(event.Type, "case."))

	payload, ok := event.Data.(map[string]any)
	if !ok {
		return nil
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return nil
	}
	from, hasFrom := data["old_status"]
	to, hasTo := data["new_status"]
	if hasFrom && hasTo {
		metrics.RecordCaseStatusChange(fmt.Sprint(from), fmt.Sprint(to))
		p.log.Debug("status change", "case_code", event.Subject, "from", from, "to", to)
	}
	return nil
}
