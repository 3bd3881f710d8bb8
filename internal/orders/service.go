package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
	"github.com/shaxa2505/fudly-bot-sub003/internal/metrics"
	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// Storage is what the state machine needs from persistence; *Repo is
// the pgx implementation.
type Storage interface {
	Get(ctx context.Context, orderID string) (Order, error)
	UpdateStatusCAS(ctx context.Context, orderID string, from, to Status, actor string) (time.Time, error)
	AddItem(ctx context.Context, orderID string, it Item) (Item, error)
}

type Service struct {
	Store Storage
	Bus   bus.Bus
	Table Table
	// Name tags published events with the producing service.
	Name string
}

// Transition validates against the table, applies the change with a
// compare-and-swap on the expected prior status, then notifies both the
// order's and the store's scope. The persisted transition is the source
// of truth: a failed publish is reported to the operator, never rolled
// back into the order.
func (s *Service) Transition(ctx context.Context, orderID string, target Status, actor string) (Order, error) {
	if !ValidStatus(target) {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !s.Table.CanTransition(o.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}

	at, err := s.Store.UpdateStatusCAS(ctx, orderID, o.Status, target, actor)
	if err != nil {
		return Order{}, err
	}

	payload := mustJSON(StateChangedPayload{
		OrderID: o.ID,
		StoreID: o.StoreID,
		From:    string(o.Status),
		To:      string(target),
		Actor:   actor,
	})
	s.notify(ctx, bus.KindStateChanged, payload, at,
		scope.Order(o.ID), scope.Store(o.StoreID))

	o.Status = target
	o.UpdatedAt = at
	return o, nil
}

// AddItem records a new line item and notifies both scopes. Storage
// enforces that only CREATED orders accept edits.
func (s *Service) AddItem(ctx context.Context, orderID string, it Item) (Item, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return Item{}, err
	}
	added, err := s.Store.AddItem(ctx, orderID, it)
	if err != nil {
		return Item{}, err
	}

	payload := mustJSON(ItemAddedPayload{
		OrderID: o.ID,
		StoreID: o.StoreID,
		Name:    added.Name,
		Qty:     added.Qty,
	})
	s.notify(ctx, bus.KindItemAdded, payload, time.Now(),
		scope.Order(o.ID), scope.Store(o.StoreID))
	return added, nil
}

// notify publishes one event per interested scope, best effort.
func (s *Service) notify(ctx context.Context, kind string, payload json.RawMessage, at time.Time, scopes ...scope.Scope) {
	for _, sc := range scopes {
		ev := bus.Event{
			ID:         uuid.NewString(),
			Scope:      sc,
			Kind:       kind,
			OccurredAt: at.UTC(),
			Producer:   s.Name,
			Payload:    payload,
		}
		if err := s.Bus.Publish(ctx, ev); err != nil {
			log.Printf("orders: publish %s on %s failed: %v", kind, sc, err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(kind).Inc()
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
