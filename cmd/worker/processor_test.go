package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
)

type fakeHandler struct {
	fail map[string]bool
	seen []string
	last carrier.Event
}

func (h *fakeHandler) Handle(ctx context.Context, ev carrier.Event) error {
	h.seen = append(h.seen, ev.ID)
	h.last = ev
	if h.fail[ev.ID] {
		return errors.New("sync failed")
	}
	return nil
}

func record(t *testing.T, msgID string, ev carrier.Event) events.SQSMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSMessage{MessageId: msgID, Body: string(b)}
}

func TestBatchProcessor_ReportsOnlyFailedRecords(t *testing.T) {
	h := &fakeHandler{fail: map[string]bool{"evt-2": true}}
	p := newBatchProcessor(h, zerolog.Nop())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", carrier.Event{ID: "evt-1", Carrier: carrier.Yalidine, Tracking: "yal-1"}),
		record(t, "m2", carrier.Event{ID: "evt-2", Carrier: carrier.Yalidine, Tracking: "yal-2"}),
		{MessageId: "m3", Body: "not json"},
		record(t, "m4", carrier.Event{ID: "evt-4", Carrier: carrier.Yalidine, Tracking: "yal-4"}),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 to fail, got %+v", resp.BatchItemFailures)
	}
	if len(h.seen) != 3 {
		t.Fatalf("expected 3 handled events, got %v", h.seen)
	}
}

func TestBatchProcessor_KeepsCarrierPayload(t *testing.T) {
	h := &fakeHandler{}
	p := newBatchProcessor(h, zerolog.Nop())

	in := carrier.Event{
		ID:       "evt-9",
		Carrier:  carrier.Yalidine,
		Type:     carrier.TypeParcelStatusUpdated,
		Tracking: "yal-9",
		Status:   "Livré",
		Data:     json.RawMessage(`{"tracking":"yal-9","status":"Livré"}`),
	}
	if _, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{record(t, "m1", in)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.last.Status != "Livré" || h.last.Tracking != "yal-9" {
		t.Fatalf("unexpected event %+v", h.last)
	}
	if string(h.last.Data) != `{"tracking":"yal-9","status":"Livré"}` {
		t.Fatalf("payload not preserved: %s", h.last.Data)
	}
}
