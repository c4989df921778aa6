// Package notify fans fulfillment events out to operator, customer and email
// channels. Channels are independent: one failing never blocks another.
package notify

import (
	"errors"
	"fmt"
	"time"
)

// Kind names a logical event.
type Kind string

const (
	KindFileSubmitted   Kind = "file.submitted"
	KindFileReceived    Kind = "file.received"
	KindFilePending     Kind = "file.pending"
	KindFileReady       Kind = "file.ready"
	KindShipmentUpdated Kind = "shipment.updated"
)

// IsFileEvent reports whether k concerns a tuning file.
func (k Kind) IsFileEvent() bool {
	switch k {
	case KindFileSubmitted, KindFileReceived, KindFilePending, KindFileReady:
		return true
	}
	return false
}

// Recipient is the customer an event is about.
type Recipient struct {
	ID             string
	Name           string
	Email          string
	TelegramChatID string
}

// Event carries everything a channel needs to render its message.
type Event struct {
	Kind            Kind
	FileID          string
	Filename        string
	Status          string
	EstimateMinutes *int
	URL             string
	Modifications   []string
	Comment         string
	Customer        Recipient

	// NextStatuses become operator action buttons.
	NextStatuses []string

	OrderID    string
	Tracking   string
	OccurredAt time.Time
}

// Channel outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Result is the outcome of one channel for one event.
type Result struct {
	Channel string `json:"channel"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// ErrSkipped is returned by a notifier that has nothing to deliver for an
// event, e.g. a customer without a linked messaging account.
var ErrSkipped = errors.New("notification skipped")

// ErrNotLinked means the customer has no messaging account linked.
var ErrNotLinked = fmt.Errorf("customer not linked: %w", ErrSkipped)

// Summary counts results by outcome.
func Summary(results []Result) (delivered, skipped, failed int) {
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDelivered:
			delivered++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return delivered, skipped, failed
}
