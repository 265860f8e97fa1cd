package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/fincasdesk/platform/internal/shared/metrics"
)

// DispatcherConfig holds retry settings
type DispatcherConfig struct {
	Attempts        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MessageIDDomain string
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MessageIDDomain: "fincas-agent",
	}
}

// Dispatcher routes notifications to the sender of their channel and retries
// transient failures. It never returns an error: failures are reported in
// the Result.
type Dispatcher struct {
	senders map[Channel]Sender
	config  DispatcherConfig
	log     *slog.Logger
}

func NewDispatcher(config DispatcherConfig, log *slog.Logger) *Dispatcher {
	if config.Attempts == 0 {
		config.Attempts = 1
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultDispatcherConfig().InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	return &Dispatcher{
		senders: make(map[Channel]Sender),
		config:  config,
		log:     log.With("component", "dispatcher"),
	}
}

// Register sets the sender for a channel
func (d *Dispatcher) Register(channel Channel, s Sender) *Dispatcher {
	d.senders[channel] = s
	return d
}

// Deliver sends n, retrying up to the configured number of attempts
func (d *Dispatcher) Deliver(ctx context.Context, n *Notification) Result {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Channel == ChannelEmail && n.MessageID == "" {
		n.MessageID = NewMessageID(d.config.MessageIDDomain)
	}

	sender, ok := d.senders[n.Channel]
	if !ok {
		return d.fail(n, 0, fmt.Errorf("no sender for channel %q", n.Channel))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.InitialInterval
	policy.MaxInterval = d.config.MaxInterval

	attempts := 0
	id, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		return sender.Send(ctx, n)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.config.Attempts),
	)
	if err != nil {
		return d.fail(n, attempts, err)
	}

	metrics.RecordDelivery(string(n.Channel), string(n.Kind), true)
	d.log.Debug("notification delivered", "channel", n.Channel, "kind", n.Kind, "case_code", n.CaseCode, "delivery_id", id)
	return Result{DeliveryID: id}
}

func (d *Dispatcher) fail(n *Notification, attempts int, err error) Result {
	metrics.RecordDelivery(string(n.Channel), string(n.Kind), false)
	d.log.Warn("notification delivery failed",
		"channel", n.Channel,
		"kind", n.Kind,
		"case_code", n.CaseCode,
		"attempts", attempts,
		"error", err,
	)
	return Result{Failure: &DeliveryFailure{
		Channel:  n.Channel,
		To:       n.To,
		Attempts: attempts,
		Reason:   err.Error(),
	}}
}
