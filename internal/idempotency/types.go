package idempotency

import "time"

// CarrierEvent is the shape persisted in the carrier events table. The
// event_id is the carrier-assigned identifier (or a derived one for legacy
// payloads) and acts as the dedup key.
type CarrierEvent struct {
	EventID    string    `dynamodbav:"event_id"` // PK
	Carrier    string    `dynamodbav:"carrier"`
	EventType  string    `dynamodbav:"event_type"`
	OccurredAt time.Time `dynamodbav:"occurred_at"`
	Payload    string    `dynamodbav:"payload"` // raw JSON of this event
	ReceivedAt time.Time `dynamodbav:"received_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at,omitempty"` // TTL epoch seconds, 0 keeps forever
}
