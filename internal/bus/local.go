package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// LocalBus fans out inside a single process. Correct only when exactly
// one instance serves traffic: events published elsewhere never arrive.
// Constructing one announces degraded mode for that reason.
type LocalBus struct {
	mu     sync.Mutex
	tab    *table
	seq    *memSequencer
	closed atomic.Bool
}

func NewLocalBus(degraded DegradedFunc) *LocalBus {
	log.Printf("bus: local backend active, cross-instance delivery NOT guaranteed")
	if degraded != nil {
		degraded("local_backend", nil)
	}
	return &LocalBus{tab: newTable(), seq: newMemSequencer()}
}

// Publish numbers the event and dispatches it under one lock: a
// publisher that takes seq N cannot be overtaken by one that takes N+1.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ev.Seq = b.seq.Next(ev.Scope)
	b.tab.dispatch(ev)
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, sc scope.Scope, connID string) (<-chan Event, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	return b.tab.add(sc, connID), nil
}

func (b *LocalBus) Unsubscribe(connID string, sc scope.Scope) {
	b.tab.remove(sc, connID)
}

func (b *LocalBus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.tab.closeAll()
	}
}
