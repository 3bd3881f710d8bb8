package bus

import (
	"sync"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// table is the in-process scope -> subscriber map both backends dispatch
// through. Channel closes only happen under the write lock, sends under
// the read lock, so a send never races a close.
type table struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan Event // scope key -> connID -> channel
}

func newTable() *table {
	return &table{subs: make(map[string]map[string]chan Event)}
}

func (t *table) add(sc scope.Scope, connID string) <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sc.String()
	byConn, ok := t.subs[key]
	if !ok {
		byConn = make(map[string]chan Event)
		t.subs[key] = byConn
	}
	if old, ok := byConn[connID]; ok {
		close(old)
	}
	ch := make(chan Event, subscriberBuffer)
	byConn[connID] = ch
	return ch
}

func (t *table) remove(sc scope.Scope, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sc.String()
	if ch, ok := t.subs[key][connID]; ok {
		close(ch)
		delete(t.subs[key], connID)
		if len(t.subs[key]) == 0 {
			delete(t.subs, key)
		}
	}
}

// dispatch delivers ev to every subscriber of its scope. A full buffer
// sheds the oldest queued event, keeping the newest (no-latest-loss).
func (t *table) dispatch(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs[ev.Scope.String()] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (t *table) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, byConn := range t.subs {
		for connID, ch := range byConn {
			close(ch)
			delete(byConn, connID)
		}
		delete(t.subs, key)
	}
}
