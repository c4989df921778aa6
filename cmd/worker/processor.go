package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
	"github.com/MedLarabi/compucar-sub005/internal/webhook"
)

// batchProcessor feeds SQS records published by the webhook gateway to the
// event processor.
type batchProcessor struct {
	handler webhook.Handler
	log     zerolog.Logger
}

func newBatchProcessor(h webhook.Handler, log zerolog.Logger) *batchProcessor {
	return &batchProcessor{handler: h, log: log.With().Str("component", "worker").Logger()}
}

// Handle processes each record independently and reports the failed ones so
// only those are redelivered. Undecodable records are dropped: redelivery
// would never fix them.
func (p *batchProcessor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		var e carrier.Event
		if err := json.Unmarshal([]byte(rec.Body), &e); err != nil || e.ID == "" {
			p.log.Error().Err(err).Str("message_id", rec.MessageId).Msg("dropping undecodable carrier event")
			continue
		}
		if err := p.handler.Handle(ctx, e); err != nil {
			p.log.Warn().Err(err).Str("message_id", rec.MessageId).Str("event_id", e.ID).Msg("carrier event will be retried")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}
