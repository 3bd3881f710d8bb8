package transitioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/shaxa2505/fudly-bot-sub003/internal/orders"
	"github.com/shaxa2505/fudly-bot-sub003/internal/redisx"
)

// Dedup remembers processed command ids across redeliveries. Best
// effort: transitions are CAS-guarded anyway, this keeps the noise
// down.
type Dedup interface {
	Seen(ctx context.Context, id string) bool
	Mark(ctx context.Context, id string)
}

// RedisDedup shares the seen-set across worker instances.
type RedisDedup struct {
	RDB  *redis.Client
	Name string
}

func (d *RedisDedup) Seen(ctx context.Context, id string) bool {
	ok, _ := redisx.Exists(ctx, d.RDB, fmt.Sprintf(redisx.KeyDedup, d.Name, id))
	return ok
}

func (d *RedisDedup) Mark(ctx context.Context, id string) {
	_ = d.RDB.Set(ctx, fmt.Sprintf(redisx.KeyDedup, d.Name, id), "1", redisx.TTLDedup).Err()
}

// Service consumes transition commands produced by the storefront's
// HTTP layer and applies them through the state machine. Outcomes a
// redelivery could not fix (invalid transition, conflict, unknown
// order) are terminal: logged and committed.
type Service struct {
	Orders *orders.Service
	Dedup  Dedup
}

func (s *Service) HandleTransitionRequested(ctx context.Context, m kafkago.Message) error {
	var req orders.TransitionRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		log.Printf("transitioner: dropping undecodable command: %v", err)
		return nil
	}
	if req.EventID == "" || req.OrderID == "" {
		return nil
	}
	if s.Dedup.Seen(ctx, req.EventID) {
		return nil
	}

	_, err := s.Orders.Transition(ctx, req.OrderID, orders.Status(req.Target), req.Actor)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrNotFound):
		log.Printf("transitioner: command %s not applied: %v", req.EventID, err)
	default:
		return err // transient; let the consumer redeliver
	}

	s.Dedup.Mark(ctx, req.EventID)
	return nil
}
