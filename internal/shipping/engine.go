// Package shipping reconciles carrier shipment events into orders and their
// mirrored parcel records.
package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/carrier"
	"github.com/MedLarabi/compucar-sub005/internal/customers"
	"github.com/MedLarabi/compucar-sub005/internal/notify"
	"github.com/MedLarabi/compucar-sub005/internal/orders"
)

// Sync outcomes.
const (
	OutcomeUpdated   = "updated"   // order status changed
	OutcomeUnchanged = "unchanged" // parcel mirrored, order status kept
	OutcomeDropped   = "dropped"   // no matching order
)

const maxApplyAttempts = 3

// OrderStore is the order persistence the engine needs.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FindByTracking(ctx context.Context, tracking string) (*orders.Order, error)
	ApplyShipment(ctx context.Context, u orders.ShipmentUpdate) error
}

// Dispatcher fans an event out to notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) []notify.Result
}

// CustomerDirectory resolves order owners for notifications.
type CustomerDirectory interface {
	Get(ctx context.Context, userID string) (*customers.Customer, error)
}

// Result describes what Sync did with one event.
type Result struct {
	Outcome string
	OrderID string
	Status  string
}

// Engine applies carrier events to orders.
type Engine struct {
	orders    OrderStore
	notify    Dispatcher
	customers CustomerDirectory
	log       zerolog.Logger
}

func NewEngine(store OrderStore, dispatcher Dispatcher, directory CustomerDirectory, log zerolog.Logger) *Engine {
	return &Engine{
		orders:    store,
		notify:    dispatcher,
		customers: directory,
		log:       log.With().Str("component", "shipping").Logger(),
	}
}

// Sync applies ev. A missing order is not an error: the event is dropped.
// Deduplication by event id happens before Sync is called.
func (e *Engine) Sync(ctx context.Context, ev carrier.Event) (Result, error) {
	log := e.log.With().Str("event_id", ev.ID).Str("tracking", ev.Tracking).Str("event_type", ev.Type).Logger()

	target, known := Classify(ev.Type, ev.Status)
	if !known {
		log.Warn().Str("carrier_status", ev.Status).Msg("unknown carrier status, order status left unchanged")
	}

	for attempt := 1; ; attempt++ {
		order, err := e.resolve(ctx, ev)
		if err != nil {
			return Result{}, err
		}
		if order == nil {
			log.Warn().Str("order_ref", ev.OrderRef).Msg("no order matches carrier event, dropping")
			return Result{Outcome: OutcomeDropped}, nil
		}

		tracking := ev.Tracking
		if tracking == "" {
			tracking = order.TrackingNumber
		}
		if tracking == "" {
			log.Warn().Str("order_id", order.OrderID).Msg("carrier event has no tracking number, dropping")
			return Result{Outcome: OutcomeDropped, OrderID: order.OrderID}, nil
		}

		next := ""
		if known && target != order.Status {
			if regresses(order.Status, target) {
				log.Info().Str("order_id", order.OrderID).Str("ignored_status", target).Msg("delivered order not moved back")
			} else {
				next = target
			}
		}

		err = e.orders.ApplyShipment(ctx, orders.ShipmentUpdate{
			OrderID:        order.OrderID,
			ExpectedStatus: order.Status,
			Status:         next,
			MirrorCOD:      order.IsCOD(),
			Parcel: orders.Parcel{
				Tracking:       tracking,
				LastStatus:     lastStatus(ev),
				LabelURL:       ev.Parcel.LabelURL,
				RecipientName:  ev.Parcel.RecipientName,
				RecipientPhone: ev.Parcel.RecipientPhone,
				Address:        ev.Parcel.Address,
				Commune:        ev.Parcel.Commune,
				Wilaya:         ev.Parcel.Wilaya,
				LastPayload:    string(ev.Data),
			},
		})
		if errors.Is(err, orders.ErrStatusMismatch) && attempt < maxApplyAttempts {
			log.Debug().Str("order_id", order.OrderID).Int("attempt", attempt).Msg("order changed concurrently, retrying")
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("apply shipment to order %s: %w", order.OrderID, err)
		}

		if next == "" {
			return Result{Outcome: OutcomeUnchanged, OrderID: order.OrderID, Status: order.Status}, nil
		}

		log.Info().Str("order_id", order.OrderID).Str("from", order.Status).Str("to", next).Msg("order status synced from carrier")
		e.notify.Dispatch(ctx, notify.Event{
			Kind:       notify.KindShipmentUpdated,
			Status:     next,
			OrderID:    order.OrderID,
			Tracking:   tracking,
			Customer:   e.recipient(ctx, order.CustomerID),
			OccurredAt: ev.OccurredAt,
		})
		return Result{Outcome: OutcomeUpdated, OrderID: order.OrderID, Status: next}, nil
	}
}

func (e *Engine) resolve(ctx context.Context, ev carrier.Event) (*orders.Order, error) {
	if ev.Tracking != "" {
		o, err := e.orders.FindByTracking(ctx, ev.Tracking)
		if err != nil {
			return nil, fmt.Errorf("find order by tracking: %w", err)
		}
		if o != nil {
			return o, nil
		}
	}
	if ev.OrderRef == "" {
		return nil, nil
	}
	o, err := e.orders.Get(ctx, ev.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (e *Engine) recipient(ctx context.Context, userID string) notify.Recipient {
	r := notify.Recipient{ID: userID}
	if e.customers == nil || userID == "" {
		return r
	}
	c, err := e.customers.Get(ctx, userID)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("customer lookup failed")
		return r
	}
	if c != nil {
		r.Name, r.Email, r.TelegramChatID = c.DisplayName, c.Email, c.TelegramChatID
	}
	return r
}

func lastStatus(ev carrier.Event) string {
	if ev.Status != "" {
		return ev.Status
	}
	return ev.Type
}
