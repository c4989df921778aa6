package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
)

// ErrMalformed is returned for bodies that are not JSON or match no known shape.
var ErrMalformed = errors.New("malformed webhook payload")

// Payload is one of the body shapes the carrier sends.
type Payload interface {
	Events(carrierName string) ([]carrier.Event, error)
}

// BatchPayload is {type, events:[{event_id, occurred_at, data, type?}]}.
// Items are decoded one at a time so a bad item cannot sink its siblings.
type BatchPayload struct {
	Type  string            `json:"type"`
	Items []json.RawMessage `json:"events"`
}

type BatchEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// EnvelopePayload is a single {event_id, type, occurred_at, data} event.
type EnvelopePayload struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// LegacyPayload is the flat single-event shape with no event id. raw is the
// whole body; its digest becomes the event id so re-deliveries dedup.
type LegacyPayload struct {
	raw []byte
}

// Parse detects the body shape. Anything unrecognized is ErrMalformed.
func Parse(body []byte) (Payload, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case shape["events"] != nil:
		var p BatchPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("%w: batch: %v", ErrMalformed, err)
		}
		return &p, nil
	case shape["event_id"] != nil && shape["data"] != nil:
		var p EnvelopePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
		}
		return &p, nil
	case shape["tracking"] != nil || shape["order_id"] != nil:
		return &LegacyPayload{raw: body}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized shape", ErrMalformed)
}

// Events returns every well-formed item. Malformed items are reported in the
// joined error alongside the good ones so siblings are not lost.
func (p *BatchPayload) Events(carrierName string) ([]carrier.Event, error) {
	out := make([]carrier.Event, 0, len(p.Items))
	var errs []error
	for i, raw := range p.Items {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			errs = append(errs, fmt.Errorf("event %d: %w: item must be an object", i, ErrMalformed))
			continue
		}
		var item BatchEvent
		if err := json.Unmarshal(raw, &item); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w: %v", i, ErrMalformed, err))
			continue
		}
		typ := item.Type
		if typ == "" {
			typ = p.Type
		}
		id := item.EventID
		if id == "" {
			// Items without an id are keyed by content so replays still dedup.
			id = "batch-" + digest(raw)
		}
		ev, err := fromData(carrierName, id, typ, item.OccurredAt, item.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}

func (p *EnvelopePayload) Events(carrierName string) ([]carrier.Event, error) {
	if p.EventID == "" {
		return nil, fmt.Errorf("%w: empty event_id", ErrMalformed)
	}
	ev, err := fromData(carrierName, p.EventID, p.Type, p.OccurredAt, p.Data)
	if err != nil {
		return nil, err
	}
	return []carrier.Event{ev}, nil
}

func (p *LegacyPayload) Events(carrierName string) ([]carrier.Event, error) {
	var head struct {
		Type       string `json:"type"`
		OccurredAt string `json:"date_last_status"`
	}
	_ = json.Unmarshal(p.raw, &head)
	typ := head.Type
	if typ == "" {
		typ = carrier.TypeParcelStatusUpdated
	}
	ev, err := fromData(carrierName, "legacy-"+digest(p.raw), typ, head.OccurredAt, p.raw)
	if err != nil {
		return nil, err
	}
	return []carrier.Event{ev}, nil
}

// parcelData is the carrier's parcel object.
type parcelData struct {
	Tracking       string     `json:"tracking"`
	OrderID        flexString `json:"order_id"`
	Status         string     `json:"status"`
	LastStatus     string     `json:"last_status"`
	Label          string     `json:"label"`
	LabelURL       string     `json:"label_url"`
	FirstName      string     `json:"firstname"`
	FamilyName     string     `json:"familyname"`
	ContactPhone   string     `json:"contact_phone"`
	Address        string     `json:"address"`
	ToCommuneName  string     `json:"to_commune_name"`
	ToWilayaName   string     `json:"to_wilaya_name"`
	DateLastStatus string     `json:"date_last_status"`
}

func fromData(carrierName, id, typ, occurredAt string, data json.RawMessage) (carrier.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return carrier.Event{}, fmt.Errorf("%w: data must be an object", ErrMalformed)
	}
	var d parcelData
	if err := json.Unmarshal(data, &d); err != nil {
		return carrier.Event{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	if d.Tracking == "" && d.OrderID == "" {
		return carrier.Event{}, fmt.Errorf("%w: event %s has neither tracking nor order_id", ErrMalformed, id)
	}

	status := d.Status
	if status == "" {
		status = d.LastStatus
	}
	label := d.LabelURL
	if label == "" {
		label = d.Label
	}
	if occurredAt == "" {
		occurredAt = d.DateLastStatus
	}

	return carrier.Event{
		ID:         id,
		Carrier:    carrierName,
		Type:       typ,
		OccurredAt: parseTime(occurredAt),
		Tracking:   strings.TrimSpace(d.Tracking),
		OrderRef:   string(d.OrderID),
		Status:     strings.TrimSpace(status),
		Parcel: carrier.Parcel{
			LabelURL:       label,
			RecipientName:  strings.TrimSpace(d.FirstName + " " + d.FamilyName),
			RecipientPhone: d.ContactPhone,
			Address:        d.Address,
			Commune:        d.ToCommuneName,
			Wilaya:         d.ToWilayaName,
		},
		Data: append(json.RawMessage(nil), data...),
	}, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// parseTime returns the zero time for empty or unparseable input.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("order_id: %w", err)
	}
	*f = flexString(n.String())
	return nil
}
