package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shaxa2505/fudly-bot-sub003/internal/auth"
	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
	"github.com/shaxa2505/fudly-bot-sub003/internal/metrics"
	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
	"github.com/shaxa2505/fudly-bot-sub003/internal/token"
)

// Reason codes surfaced to the client when a connection is refused or
// closed.
const (
	ReasonExpired      = "expired"
	ReasonUnauthorized = "unauthorized"
	ReasonRateLimited  = "rate_limited"
	ReasonUnavailable  = "unavailable"
)

// RefusedError carries the reason code for a failed admit.
type RefusedError struct{ Reason string }

func (e *RefusedError) Error() string { return "connection refused: " + e.Reason }

func refuse(reason string) error {
	metrics.ConnectionsRefusedTotal.WithLabelValues(reason).Inc()
	return &RefusedError{Reason: reason}
}

// Conn is one live client connection. Push must return an error once
// the peer is gone; Close tells the peer why it is being cut.
type Conn interface {
	Push(ev bus.Event) error
	Close(reason string)
}

type entry struct {
	identity     string
	scope        scope.Scope
	subscribedAt time.Time
	expiresAt    time.Time
	conn         Conn
	done         chan struct{}
}

// Registry owns this process's live-connection table. Only its own
// methods mutate the table; other processes have their own.
type Registry struct {
	Tokens *token.Service
	Auth   *auth.Authorizer
	Bus    bus.Bus
	// Recheck is how often standing connections are re-authorized to
	// catch ownership changes. Zero disables the sweeper tick.
	Recheck time.Duration
	// Grace delays the forced drop after the token expires mid-stream.
	Grace time.Duration

	mu    sync.Mutex
	conns map[string]*entry
	now   func() time.Time
}

func New(tokens *token.Service, az *auth.Authorizer, b bus.Bus, recheck, grace time.Duration) *Registry {
	return &Registry{
		Tokens:  tokens,
		Auth:    az,
		Bus:     b,
		Recheck: recheck,
		Grace:   grace,
		conns:   make(map[string]*entry),
		now:     time.Now,
	}
}

// Admit runs the full gate in order: token validation, ownership
// re-authorization, bus subscription, then the table entry. Each step
// fails closed; nothing is subscribed until authorization has resolved
// to an explicit allow. Re-admitting a previously dropped connID is
// safe.
func (r *Registry) Admit(ctx context.Context, connID string, c Conn, tokenID string, sc scope.Scope) error {
	claims, err := r.Tokens.Validate(ctx, tokenID)
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return refuse(ReasonExpired)
	case err != nil:
		return refuse(ReasonUnauthorized)
	}
	// the token must have been minted for exactly this scope
	if claims.Scope != sc {
		return refuse(ReasonUnauthorized)
	}

	// denied, timed out and errored lookups all land here: fail closed
	if d := r.Auth.Authorize(ctx, claims.Identity, sc); !d.Allowed() {
		return refuse(ReasonUnauthorized)
	}

	// stale entry from a dead connection with the same id
	r.Drop(connID, "readmitted")

	ch, err := r.Bus.Subscribe(ctx, sc, connID)
	if err != nil {
		return refuse(ReasonUnavailable)
	}

	e := &entry{
		identity:     claims.Identity,
		scope:        sc,
		subscribedAt: r.now(),
		expiresAt:    claims.ExpiresAt,
		conn:         c,
		done:         make(chan struct{}),
	}
	r.mu.Lock()
	r.conns[connID] = e
	r.mu.Unlock()

	metrics.ConnectionsAdmittedTotal.Inc()
	metrics.ConnectionsLive.Inc()

	go r.pump(connID, e, ch)
	go r.watch(connID, e)
	return nil
}

// pump forwards bus events to the connection. A failed push means the
// peer is gone; that drops this connection and nobody else.
func (r *Registry) pump(connID string, e *entry, ch <-chan bus.Event) {
	for ev := range ch {
		if err := e.conn.Push(ev); err != nil {
			r.Drop(connID, "push_failed")
			return
		}
		metrics.EventsDeliveredTotal.Inc()
	}
}

// watch enforces token expiry and the periodic ownership re-check for
// a standing connection.
func (r *Registry) watch(connID string, e *entry) {
	expiry := time.NewTimer(e.expiresAt.Add(r.Grace).Sub(r.now()))
	defer expiry.Stop()

	var recheck <-chan time.Time
	if r.Recheck > 0 {
		t := time.NewTicker(r.Recheck)
		defer t.Stop()
		recheck = t.C
	}

	for {
		select {
		case <-e.done:
			return
		case <-expiry.C:
			r.Drop(connID, ReasonExpired)
			return
		case <-recheck:
			if d := r.Auth.Authorize(context.Background(), e.identity, e.scope); !d.Allowed() {
				r.Drop(connID, ReasonUnauthorized)
				return
			}
		}
	}
}

// Drop unsubscribes, removes the entry and closes the connection.
// Idempotent; it runs on every disconnect path so subscriptions never
// leak.
func (r *Registry) Drop(connID, cause string) {
	r.mu.Lock()
	e, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(e.done)
	r.Bus.Unsubscribe(connID, e.scope)
	e.conn.Close(cause)
	metrics.ConnectionsDroppedTotal.WithLabelValues(cause).Inc()
	metrics.ConnectionsLive.Dec()
}

// Len reports the live-connection count on this instance.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll drops everything, for shutdown.
func (r *Registry) CloseAll(cause string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Drop(id, cause)
	}
}
