package webhook

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
	"github.com/MedLarabi/compucar-sub005/internal/idempotency"
	"github.com/MedLarabi/compucar-sub005/internal/metrics"
	"github.com/MedLarabi/compucar-sub005/internal/shipping"
)

// Processing outcomes beyond those reported by the shipping sync.
const (
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Ledger records events already seen.
type Ledger interface {
	Record(ctx context.Context, ev idempotency.CarrierEvent) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Syncer applies a new event to orders.
type Syncer interface {
	Sync(ctx context.Context, ev carrier.Event) (shipping.Result, error)
}

// Processor is the asynchronous half of the gateway: dedup, then sync.
type Processor struct {
	ledger  Ledger
	syncer  Syncer
	metrics metrics.Recorder
	log     zerolog.Logger
}

func NewProcessor(ledger Ledger, syncer Syncer, rec metrics.Recorder, log zerolog.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Processor{
		ledger:  ledger,
		syncer:  syncer,
		metrics: rec,
		log:     log.With().Str("component", "webhook_processor").Logger(),
	}
}

// Handle processes one event. A replayed event id is skipped without error.
// When the sync fails the ledger row is released so a redelivery retries it.
func (p *Processor) Handle(ctx context.Context, ev carrier.Event) error {
	log := p.log.With().Str("event_id", ev.ID).Str("carrier", ev.Carrier).Str("event_type", ev.Type).Logger()

	created, err := p.ledger.Record(ctx, idempotency.CarrierEvent{
		EventID:    ev.ID,
		Carrier:    ev.Carrier,
		EventType:  ev.Type,
		OccurredAt: ev.OccurredAt,
		Payload:    string(ev.Data),
	})
	if err != nil {
		p.metrics.WebhookEvent(ev.Carrier, OutcomeFailed)
		log.Error().Err(err).Msg("carrier event ledger write failed")
		return fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	if !created {
		p.metrics.WebhookEvent(ev.Carrier, OutcomeDuplicate)
		log.Debug().Msg("duplicate carrier event skipped")
		return nil
	}

	res, err := p.syncer.Sync(ctx, ev)
	if err != nil {
		p.metrics.WebhookEvent(ev.Carrier, OutcomeFailed)
		log.Error().Err(err).Msg("shipping sync failed")
		if rerr := p.ledger.Release(ctx, ev.ID); rerr != nil {
			log.Error().Err(rerr).Msg("carrier event stays recorded; redeliveries will be skipped")
		}
		return fmt.Errorf("sync event %s: %w", ev.ID, err)
	}
	p.metrics.WebhookEvent(ev.Carrier, res.Outcome)
	log.Info().Str("outcome", res.Outcome).Str("order_id", res.OrderID).Str("status", res.Status).Msg("carrier event processed")
	return nil
}

// HandleAll processes events independently; one failure never stops the
// rest. It returns the ids that failed.
func (p *Processor) HandleAll(ctx context.Context, events []carrier.Event) []string {
	var failed []string
	for _, ev := range events {
		if err := p.Handle(ctx, ev); err != nil {
			failed = append(failed, ev.ID)
		}
	}
	return failed
}
