package bus

import (
	"sync"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// memSequencer numbers events per scope for the local backend. The
// kafka backend does not use it: there the partition offset is the
// sequence, so every consuming instance derives identical numbering
// from the broker instead of trusting publish-time counters.
type memSequencer struct {
	mu   sync.Mutex
	next map[string]uint64
}

func newMemSequencer() *memSequencer {
	return &memSequencer{next: make(map[string]uint64)}
}

func (s *memSequencer) Next(sc scope.Scope) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[sc.String()]++
	return s.next[sc.String()]
}
