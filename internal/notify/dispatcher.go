package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MedLarabi/compucar-sub005/internal/metrics"
)

// DefaultTimeout bounds a single channel delivery.
const DefaultTimeout = 5 * time.Second

// Notifier is one delivery channel.
type Notifier interface {
	Name() string
	Accepts(k Kind) bool
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher delivers an event to every notifier that accepts it.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       zerolog.Logger
	metrics   metrics.Recorder
}

func NewDispatcher(log zerolog.Logger, rec metrics.Recorder, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		log:       log.With().Str("component", "notify").Logger(),
		metrics:   rec,
	}
}

// Dispatch runs all accepting notifiers concurrently and returns one result
// per notifier. Cancellation of ctx does not abort deliveries already started
// for a committed change; each delivery has its own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []Result {
	ctx = context.WithoutCancel(ctx)

	targets := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		if n.Accepts(ev.Kind) {
			targets = append(targets, n)
		}
	}

	results := make([]Result, len(targets))
	var g errgroup.Group
	for i, n := range targets {
		i, n := i, n
		g.Go(func() error {
			results[i] = d.deliver(ctx, n, ev)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, ev Event) (res Result) {
	res = Result{Channel: n.Name()}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Error = fmt.Sprintf("panic: %v", r)
			d.log.Error().Str("channel", res.Channel).Str("event", string(ev.Kind)).Interface("panic", r).Msg("notifier panicked")
		}
		d.metrics.Notification(res.Channel, res.Outcome)
	}()

	err := n.Notify(ctx, ev)
	switch {
	case err == nil:
		res.Outcome = OutcomeDelivered
	case errors.Is(err, ErrSkipped):
		res.Outcome = OutcomeSkipped
		d.log.Debug().Str("channel", res.Channel).Str("event", string(ev.Kind)).Str("file_id", ev.FileID).Msg("notification skipped")
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		d.log.Warn().Err(err).
			Str("channel", res.Channel).
			Str("event", string(ev.Kind)).
			Str("file_id", ev.FileID).
			Str("order_id", ev.OrderID).
			Msg("notification delivery failed")
	}
	return res
}
