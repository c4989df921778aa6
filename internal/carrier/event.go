// Package carrier holds the normalized form of an inbound shipping carrier
// event, shared by the webhook gateway and the shipping sync.
package carrier

import (
	"encoding/json"
	"time"
)

// Yalidine is the only registered carrier.
const Yalidine = "yalidine"

// Event types sent by the carrier.
const (
	TypeParcelCreated       = "parcel_created"
	TypeParcelStatusUpdated = "parcel_status_updated"
	TypeParcelDeleted       = "parcel_deleted"
)

// Event is one carrier notification after shape-specific parsing.
type Event struct {
	ID         string          `json:"id"`
	Carrier    string          `json:"carrier"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Tracking   string          `json:"tracking"`
	OrderRef   string          `json:"orderRef,omitempty"`
	Status     string          `json:"status,omitempty"` // carrier's free text
	Parcel     Parcel          `json:"parcel"`
	Data       json.RawMessage `json:"data"` // the event's own payload, kept for replay
}

// Parcel is the recipient and label snapshot carried by an event.
type Parcel struct {
	LabelURL       string `json:"labelUrl,omitempty"`
	RecipientName  string `json:"recipientName,omitempty"`
	RecipientPhone string `json:"recipientPhone,omitempty"`
	Address        string `json:"address,omitempty"`
	Commune        string `json:"commune,omitempty"`
	Wilaya         string `json:"wilaya,omitempty"`
}
