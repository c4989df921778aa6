package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/MedLarabi/compucar-sub005/internal/aws/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", "", map[string]string{TrackingIndex: "tracking_number"})
	fake.CreateTable("parcels", "order_id", "", nil)
	return NewStore(fake, "orders", "parcels"), fake
}

func seedOrder(t *testing.T, fake *dynamotest.Fake, o Order) {
	t.Helper()
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	fake.Seed("orders", item)
}

func TestGetAndFindByTracking(t *testing.T) {
	store, fake := newTestStore(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedOrder(t, fake, Order{OrderID: "o-1", Status: StatusProcessing, TrackingNumber: "yal-111", CreatedAt: now, UpdatedAt: now})
	seedOrder(t, fake, Order{OrderID: "o-2", Status: StatusPending, CreatedAt: now, UpdatedAt: now})

	ctx := context.Background()
	o, err := store.Get(ctx, "o-2")
	if err != nil || o == nil {
		t.Fatalf("Get: %v %v", o, err)
	}
	if o.Status != StatusPending {
		t.Fatalf("status = %s", o.Status)
	}

	o, err = store.FindByTracking(ctx, "yal-111")
	if err != nil {
		t.Fatalf("FindByTracking error: %v", err)
	}
	if o == nil || o.OrderID != "o-1" {
		t.Fatalf("expected o-1, got %+v", o)
	}

	o, err = store.FindByTracking(ctx, "yal-unknown")
	if err != nil || o != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", o, err)
	}
	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestApplyShipment_ShippedThenDelivered(t *testing.T) {
	store, fake := newTestStore(t)
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedOrder(t, fake, Order{OrderID: "o-1", Status: StatusProcessing, PaymentMethod: PaymentCOD, CreatedAt: created, UpdatedAt: created})

	t1 := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	store.nowFunc = func() time.Time { return t1 }
	ctx := context.Background()

	err := store.ApplyShipment(ctx, ShipmentUpdate{
		OrderID:        "o-1",
		ExpectedStatus: StatusProcessing,
		Status:         StatusShipped,
		MirrorCOD:      true,
		Parcel: Parcel{
			Tracking:      "yal-111",
			LastStatus:    "En transit",
			RecipientName: "Karim",
			Wilaya:        "Alger",
			LastPayload:   `{"status":"En transit"}`,
		},
	})
	if err != nil {
		t.Fatalf("ApplyShipment shipped: %v", err)
	}

	o, _ := store.Get(ctx, "o-1")
	if o.Status != StatusShipped || o.TrackingNumber != "yal-111" || o.CODStatus != StatusShipped {
		t.Fatalf("unexpected order after ship: %+v", o)
	}
	if o.ShippedAt == nil || !o.ShippedAt.Equal(t1) {
		t.Fatalf("shipped_at = %v, want %v", o.ShippedAt, t1)
	}

	t2 := t1.Add(48 * time.Hour)
	store.nowFunc = func() time.Time { return t2 }
	err = store.ApplyShipment(ctx, ShipmentUpdate{
		OrderID:        "o-1",
		ExpectedStatus: StatusShipped,
		Status:         StatusDelivered,
		Parcel:         Parcel{Tracking: "yal-111", LastStatus: "Livré"},
	})
	if err != nil {
		t.Fatalf("ApplyShipment delivered: %v", err)
	}

	o, _ = store.Get(ctx, "o-1")
	if o.Status != StatusDelivered {
		t.Fatalf("status = %s", o.Status)
	}
	if !o.ShippedAt.Equal(t1) {
		t.Fatalf("shipped_at must keep first value, got %v", o.ShippedAt)
	}
	if o.DeliveredAt == nil || !o.DeliveredAt.Equal(t2) {
		t.Fatalf("delivered_at = %v", o.DeliveredAt)
	}
	if o.CODStatus != StatusShipped {
		t.Fatalf("cod_status should only change when mirrored, got %s", o.CODStatus)
	}

	p, err := store.GetParcel(ctx, "o-1")
	if err != nil || p == nil {
		t.Fatalf("GetParcel: %v %v", p, err)
	}
	if p.LastStatus != "Livré" || p.Tracking != "yal-111" {
		t.Fatalf("unexpected parcel: %+v", p)
	}
	if p.RecipientName != "Karim" || p.Wilaya != "Alger" {
		t.Fatalf("earlier parcel fields must survive partial updates: %+v", p)
	}
	if !p.CreatedAt.Equal(t1) || !p.UpdatedAt.Equal(t2) {
		t.Fatalf("parcel timestamps created=%v updated=%v", p.CreatedAt, p.UpdatedAt)
	}
}

func TestApplyShipment_StatusUnchangedStillMirrorsParcel(t *testing.T) {
	store, fake := newTestStore(t)
	seedOrder(t, fake, Order{OrderID: "o-1", Status: StatusShipped, TrackingNumber: "yal-1"})

	err := store.ApplyShipment(context.Background(), ShipmentUpdate{
		OrderID:        "o-1",
		ExpectedStatus: StatusShipped,
		Parcel:         Parcel{Tracking: "yal-1", LastStatus: "Statut inconnu"},
	})
	if err != nil {
		t.Fatalf("ApplyShipment: %v", err)
	}
	o, _ := store.Get(context.Background(), "o-1")
	if o.Status != StatusShipped {
		t.Fatalf("status changed to %s", o.Status)
	}
	p, _ := store.GetParcel(context.Background(), "o-1")
	if p == nil || p.LastStatus != "Statut inconnu" {
		t.Fatalf("parcel not mirrored: %+v", p)
	}
}

func TestApplyShipment_ConcurrentChangeIsAtomic(t *testing.T) {
	store, fake := newTestStore(t)
	seedOrder(t, fake, Order{OrderID: "o-1", Status: StatusDelivered})

	err := store.ApplyShipment(context.Background(), ShipmentUpdate{
		OrderID:        "o-1",
		ExpectedStatus: StatusProcessing,
		Status:         StatusShipped,
		Parcel:         Parcel{Tracking: "yal-1", LastStatus: "Expédié"},
	})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if p := fake.Item("parcels", "o-1"); p != nil {
		t.Fatalf("parcel must not be written when the order write fails")
	}
}

func TestApplyShipment_MissingOrder(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.ApplyShipment(context.Background(), ShipmentUpdate{
		OrderID: "ghost",
		Parcel:  Parcel{Tracking: "yal-1"},
	})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	if err := store.ApplyShipment(context.Background(), ShipmentUpdate{OrderID: "o"}); err == nil {
		t.Fatalf("expected error without tracking")
	}
}

func TestApplyShipment_StoreErrorPropagates(t *testing.T) {
	store, fake := newTestStore(t)
	seedOrder(t, fake, Order{OrderID: "o-1", Status: StatusPending})
	fake.FailNext("TransactWriteItems", errors.New("throttled"))

	err := store.ApplyShipment(context.Background(), ShipmentUpdate{
		OrderID: "o-1", ExpectedStatus: StatusPending, Status: StatusShipped,
		Parcel: Parcel{Tracking: "yal-1"},
	})
	if err == nil || errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
