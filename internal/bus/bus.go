package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

const (
	KindStateChanged = "state-changed"
	KindItemAdded    = "item-added"
)

var (
	ErrBusUnavailable = errors.New("bus unavailable")
	ErrBusClosed      = errors.New("bus closed")
)

// Event is what travels scope-to-subscribers. Payload is opaque to the
// bus; Seq is assigned by the backend and is monotonic non-decreasing
// per scope for any one subscriber.
type Event struct {
	ID         string          `json:"event_id"`
	Scope      scope.Scope     `json:"scope"`
	Kind       string          `json:"kind"`
	Seq        uint64          `json:"seq"`
	OccurredAt time.Time       `json:"occurred_at"`
	Producer   string          `json:"producer,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Bus fans events out to live subscribers of a scope. Two backends:
// Kafka for multi-instance deployments, Local for a single process.
// Callers never branch on which one they hold.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, sc scope.Scope, connID string) (<-chan Event, error)
	Unsubscribe(connID string, sc scope.Scope)
	Close()
}

// DegradedFunc is the operator-visible signal that cross-instance
// delivery is not currently guaranteed. It must never be swallowed.
type DegradedFunc func(reason string, err error)

// subscriber buffer; when full the oldest queued event is shed so the
// newest is never the one lost.
const subscriberBuffer = 64
