package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/shaxa2505/fudly-bot-sub003/internal/kafka"
	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// producer is the async publish half; *kafkax.Producer in production.
type producer interface {
	Start(ctx context.Context)
	Publish(key, value []byte, headers ...kafkago.Header)
	Close()
	WaitClosed()
}

// KafkaBus routes publishes through the shared broker so a transition
// performed on one instance reaches subscribers held by another. Every
// instance consumes the whole notification topic under its own group id
// and filters against its local table; the partition key is the scope
// key, so the broker's per-partition ordering is per-scope ordering.
//
// Sequence numbers are not assigned at publish time: two instances
// racing a counter can have their writes land on the partition in the
// opposite order. The consume side derives seq from the partition
// offset instead, so the broker is the single ordering authority and
// every instance numbers a scope's events identically.
type KafkaBus struct {
	prod     producer
	cons     *kafkax.Consumer
	tab      *table
	degraded DegradedFunc
	started  atomic.Bool
	closed   atomic.Bool
}

type KafkaBusConfig struct {
	Brokers []string
	Topic   string
	// GroupID must be unique per instance so each one sees the full
	// stream (fan-out, not work-sharing).
	GroupID  string
	Degraded DegradedFunc
}

func NewKafkaBus(cfg KafkaBusConfig) *KafkaBus {
	b := newKafkaBus(cfg)
	b.cons = kafkax.NewConsumer(cfg.Brokers, cfg.GroupID, cfg.Topic, 1)
	return b
}

// NewKafkaPublisher builds a publish-only bus for processes that hold
// no subscribers, such as the transition worker. Run flushes the
// producer without consuming the notification topic back.
func NewKafkaPublisher(cfg KafkaBusConfig) *KafkaBus {
	return newKafkaBus(cfg)
}

func newKafkaBus(cfg KafkaBusConfig) *KafkaBus {
	degraded := cfg.Degraded
	if degraded == nil {
		degraded = func(reason string, err error) {
			log.Printf("bus degraded (%s): %v", reason, err)
		}
	}
	b := &KafkaBus{
		tab:      newTable(),
		degraded: degraded,
	}
	b.prod = kafkax.NewProducer(cfg.Brokers, cfg.Topic, 1024, b.publishFailed)
	return b
}

func (b *KafkaBus) publishFailed(err error) {
	b.degraded("publish_failed", err)
}

// Run starts the producer flush loop and, when this bus consumes, the
// consume loop. Blocks until ctx is cancelled; a consumer exit while
// subscribers are live is a degraded-mode condition, not a silent
// fallback.
func (b *KafkaBus) Run(ctx context.Context) error {
	b.started.Store(true)
	b.prod.Start(ctx)
	if b.cons == nil {
		<-ctx.Done()
		return nil
	}
	if err := b.cons.Start(ctx, b.handle); err != nil {
		b.degraded("consumer_exit", err)
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

// handle is the consume side: every instance sees the full topic and
// dispatches into its own subscriber table, which is what carries an
// event published on instance A to a connection held by instance B.
// Seq comes from the partition offset, which is identical for every
// consumer of the partition and non-decreasing per scope.
func (b *KafkaBus) handle(_ context.Context, m kafkago.Message) error {
	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		log.Printf("bus: dropping undecodable event: %v", err)
		return nil
	}
	ev.Seq = uint64(m.Offset) + 1
	b.tab.dispatch(ev)
	return nil
}

// Publish enqueues the event keyed by scope. Seq stays zero on the
// wire; it is assigned where the broker has fixed the order.
func (b *KafkaBus) Publish(_ context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	ev.Seq = 0
	b.prod.Publish(ev.Scope.Key(), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-kind", Value: []byte(ev.Kind)},
	)
	return nil
}

func (b *KafkaBus) Subscribe(_ context.Context, sc scope.Scope, connID string) (<-chan Event, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	return b.tab.add(sc, connID), nil
}

func (b *KafkaBus) Unsubscribe(connID string, sc scope.Scope) {
	b.tab.remove(sc, connID)
}

func (b *KafkaBus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.prod.Close()
		// only a started flush loop ever closes the wait channel
		if b.started.Load() {
			b.prod.WaitClosed()
		}
		b.tab.closeAll()
	}
}
