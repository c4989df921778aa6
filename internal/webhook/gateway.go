// Package webhook ingests carrier webhooks: it authenticates and normalizes
// the request, hands the events to a queue and acknowledges before they are
// processed.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownCarrier = errors.New("unknown carrier")
	ErrBadChallenge   = errors.New("subscribe and a non-empty crc_token are required")
)

// Gateway accepts webhook deliveries.
type Gateway struct {
	// secrets maps each registered carrier to its signing secret. An empty
	// secret disables verification for that carrier.
	secrets map[string]string
	queue   Queue
	log     zerolog.Logger
}

func NewGateway(secrets map[string]string, queue Queue, log zerolog.Logger) *Gateway {
	return &Gateway{
		secrets: secrets,
		queue:   queue,
		log:     log.With().Str("component", "webhook_gateway").Logger(),
	}
}

// Accept verifies, parses and enqueues one delivery and returns the number of
// events accepted. Nothing is enqueued unless the whole request is valid.
func (g *Gateway) Accept(ctx context.Context, carrierName string, header http.Header, body []byte) (int, error) {
	secret, ok := g.secrets[carrierName]
	if !ok {
		return 0, ErrUnknownCarrier
	}
	if secret != "" {
		if err := VerifySignature(secret, body, header); err != nil {
			g.log.Warn().Err(err).Str("carrier", carrierName).Msg("webhook signature rejected")
			return 0, err
		}
	}

	payload, err := Parse(body)
	if err != nil {
		return 0, err
	}
	events, err := payload.Events(carrierName)
	if err != nil {
		if len(events) == 0 {
			return 0, err
		}
		g.log.Warn().Err(err).Str("carrier", carrierName).Int("accepted", len(events)).Msg("skipping malformed events in batch")
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := g.queue.Enqueue(ctx, events); err != nil {
		g.log.Error().Err(err).Str("carrier", carrierName).Int("events", len(events)).Msg("webhook events not enqueued")
		return 0, err
	}
	g.log.Info().Str("carrier", carrierName).Int("events", len(events)).Msg("webhook accepted")
	return len(events), nil
}

// Challenge answers the carrier's subscription handshake by echoing crcToken.
// subscribe reports whether the parameter was present; its value is ignored.
func (g *Gateway) Challenge(carrierName string, subscribe bool, crcToken string) (string, error) {
	if _, ok := g.secrets[carrierName]; !ok {
		return "", ErrUnknownCarrier
	}
	if !subscribe || crcToken == "" {
		return "", ErrBadChallenge
	}
	return crcToken, nil
}
