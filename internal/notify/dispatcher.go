// Package notify delivers alert notifications asynchronously. The scan
// pipeline hands intents to a Dispatcher and moves on; delivery, retries, and
// failures stay on this side of the fence and never feed back into a cycle.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Intent kinds.
const (
	KindPush  = "push"
	KindEmail = "email"
)

// Intent is one notification to deliver.
type Intent struct {
	Kind    string
	Token   string // push device token
	To      string // email recipient
	Title   string
	Subject string
	Body    string
}

// Pusher sends a push notification to a single device.
type Pusher interface {
	PushToDevice(ctx context.Context, token, title, body string) error
}

// Emailer sends a plain-text email.
type Emailer interface {
	Email(ctx context.Context, to, subject, body string) error
}

// Dispatcher is a buffered queue with a single delivery worker. Enqueue never
// blocks: when the queue is full the intent is dropped and counted, which is
// the correct trade for alerts that are stale within minutes anyway.
type Dispatcher struct {
	pusher  Pusher
	emailer Emailer
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	queue       chan Intent
	maxAttempts int
}

// NewDispatcher creates a Dispatcher with the given delivery backends. Either
// backend may be nil; intents of that kind are then dropped with a log line.
func NewDispatcher(pusher Pusher, emailer Emailer, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 256
	}
	return &Dispatcher{
		pusher:      pusher,
		emailer:     emailer,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		queue:       make(chan Intent, queueSize),
		maxAttempts: 3,
	}
}

// Enqueue hands an intent to the delivery worker. Returns false if the queue
// was full and the intent was dropped.
func (d *Dispatcher) Enqueue(intent Intent) bool {
	select {
	case d.queue <- intent:
		return true
	default:
		d.logger.Warn("notification queue full, dropping intent", "kind", intent.Kind)
		d.metrics.NotificationsTotal.WithLabelValues(intent.Kind, "dropped").Inc()
		return false
	}
}

// Run delivers queued intents until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started", "queue_size", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopping", "reason", ctx.Err(), "pending", len(d.queue))
			return nil
		case intent := <-d.queue:
			d.deliver(ctx, intent)
		}
	}
}

// deliver attempts an intent with exponential backoff: 500ms, 1s, capped by
// maxAttempts. Exhausted retries are logged and counted, never propagated.
func (d *Dispatcher) deliver(ctx context.Context, intent Intent) {
	backoff := 500 * time.Millisecond

	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.send(ctx, intent)
		if err == nil {
			d.metrics.NotificationsTotal.WithLabelValues(intent.Kind, "sent").Inc()
			return
		}
		if ctx.Err() != nil {
			break
		}
		d.logger.Warn("notification delivery failed",
			"kind", intent.Kind, "attempt", attempt, "error", err)
		if attempt < d.maxAttempts && !d.sleep(ctx, backoff) {
			break
		}
		backoff *= 2
	}

	d.logger.Error("notification delivery gave up", "kind", intent.Kind, "error", err)
	d.metrics.NotificationsTotal.WithLabelValues(intent.Kind, "failed").Inc()
}

func (d *Dispatcher) send(ctx context.Context, intent Intent) error {
	switch intent.Kind {
	case KindPush:
		if d.pusher == nil {
			d.logger.Debug("no push backend configured, dropping intent")
			return nil
		}
		return d.pusher.PushToDevice(ctx, intent.Token, intent.Title, intent.Body)
	case KindEmail:
		if d.emailer == nil {
			d.logger.Debug("no email backend configured, dropping intent")
			return nil
		}
		return d.emailer.Email(ctx, intent.To, intent.Subject, intent.Body)
	default:
		d.logger.Warn("unknown intent kind", "kind", intent.Kind)
		return nil
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	timer := d.clock.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
