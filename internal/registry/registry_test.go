package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaxa2505/fudly-bot-sub003/internal/auth"
	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
	"github.com/shaxa2505/fudly-bot-sub003/internal/token"
)

type memTokenStore struct {
	mu   sync.Mutex
	data map[string]memRec
}

type memRec struct {
	value   []byte
	expires time.Time
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{data: make(map[string]memRec)}
}

func (s *memTokenStore) Set(_ context.Context, id string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = memRec{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (s *memTokenStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok || !time.Now().Before(rec.expires) {
		return nil, false, nil
	}
	return rec.value, true, nil
}

type fakeOwnership struct {
	mu      sync.Mutex
	allowed map[string]bool // identity + ":" + scope string
	hang    bool
	err     error
}

func (s *fakeOwnership) set(identity string, sc scope.Scope, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowed == nil {
		s.allowed = make(map[string]bool)
	}
	s.allowed[identity+":"+sc.String()] = ok
}

func (s *fakeOwnership) lookup(ctx context.Context, identity string, sc scope.Scope) (bool, error) {
	s.mu.Lock()
	hang, err := s.hang, s.err
	ok := s.allowed[identity+":"+sc.String()]
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *fakeOwnership) OwnsOrder(ctx context.Context, identity, orderID string) (bool, error) {
	return s.lookup(ctx, identity, scope.Order(orderID))
}

func (s *fakeOwnership) OperatesStore(ctx context.Context, identity, storeID string) (bool, error) {
	return s.lookup(ctx, identity, scope.Store(storeID))
}

type fakeConn struct {
	mu      sync.Mutex
	pushed  []bus.Event
	pushErr error

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) Push(ev bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	c.pushed = append(c.pushed, ev)
	return nil
}

func (c *fakeConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *fakeConn) events() []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.Event(nil), c.pushed...)
}

func (c *fakeConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

type fixture struct {
	reg    *Registry
	tokens *token.Service
	own    *fakeOwnership
	bus    *bus.LocalBus
}

func newFixture(t *testing.T, recheck, grace time.Duration) *fixture {
	t.Helper()
	own := &fakeOwnership{}
	b := bus.NewLocalBus(nil)
	t.Cleanup(b.Close)
	tokens := token.NewService(newMemTokenStore(), time.Minute, 30*time.Second)
	az := &auth.Authorizer{Store: own, Timeout: 100 * time.Millisecond}
	return &fixture{
		reg:    New(tokens, az, b, recheck, grace),
		tokens: tokens,
		own:    own,
		bus:    b,
	}
}

func (f *fixture) issue(t *testing.T, identity string, sc scope.Scope, ttl time.Duration) string {
	t.Helper()
	tok, err := f.tokens.Issue(context.Background(), identity, sc, ttl)
	require.NoError(t, err)
	return tok.ID
}

func publish(t *testing.T, b bus.Bus, sc scope.Scope, id string) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), bus.Event{
		ID: id, Scope: sc, Kind: bus.KindStateChanged, OccurredAt: time.Now(),
	}))
}

func TestAdmitAndDeliver(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	sc := scope.Order("o-1")
	f.own.set("cust-1", sc, true)
	tok := f.issue(t, "cust-1", sc, time.Minute)

	c := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c, tok, sc))
	assert.Equal(t, 1, f.reg.Len())

	publish(t, f.bus, sc, "ev-1")
	require.Eventually(t, func() bool { return len(c.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ev-1", c.events()[0].ID)
}

func TestAdmitRefusalsFailClosed(t *testing.T) {
	sc := scope.Order("o-1")

	cases := []struct {
		name   string
		setup  func(f *fixture) string // returns token id
		reason string
	}{
		{
			name: "expired token",
			setup: func(f *fixture) string {
				tok := f.issue(t, "cust-1", sc, time.Millisecond)
				time.Sleep(20 * time.Millisecond)
				return tok
			},
			reason: ReasonExpired,
		},
		{
			name:   "unknown token",
			setup:  func(f *fixture) string { return "no-such-token" },
			reason: ReasonUnauthorized,
		},
		{
			name: "token scope mismatch",
			setup: func(f *fixture) string {
				f.own.set("cust-1", scope.Order("o-2"), true)
				return f.issue(t, "cust-1", scope.Order("o-2"), time.Minute)
			},
			reason: ReasonUnauthorized,
		},
		{
			name:   "ownership denied",
			setup:  func(f *fixture) string { return f.issue(t, "cust-1", sc, time.Minute) },
			reason: ReasonUnauthorized,
		},
		{
			name: "ownership lookup hangs",
			setup: func(f *fixture) string {
				f.own.set("cust-1", sc, true)
				f.own.hang = true
				return f.issue(t, "cust-1", sc, time.Minute)
			},
			reason: ReasonUnauthorized,
		},
		{
			name: "ownership lookup errors",
			setup: func(f *fixture) string {
				f.own.set("cust-1", sc, true)
				f.own.err = errors.New("db down")
				return f.issue(t, "cust-1", sc, time.Minute)
			},
			reason: ReasonUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0, time.Second)
			tok := tc.setup(f)

			c := newFakeConn()
			err := f.reg.Admit(context.Background(), "conn-1", c, tok, sc)
			var re *RefusedError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.reason, re.Reason)
			assert.Equal(t, 0, f.reg.Len(), "refused connections leave no entry")

			// and no subscription either: publishes go nowhere
			publish(t, f.bus, sc, "ev-x")
			time.Sleep(20 * time.Millisecond)
			assert.Empty(t, c.events())
		})
	}
}

func TestDropStopsDelivery(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	sc := scope.Order("o-1")
	f.own.set("cust-1", sc, true)
	tok := f.issue(t, "cust-1", sc, time.Minute)

	c := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c, tok, sc))

	f.reg.Drop("conn-1", "disconnect")
	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, "disconnect", c.closeReason())

	publish(t, f.bus, sc, "ev-after-drop")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.events(), "no delivery attempt after drop")

	// dropping again is a no-op
	f.reg.Drop("conn-1", "disconnect")
}

func TestReadmitAfterDrop(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	sc := scope.Order("o-1")
	f.own.set("cust-1", sc, true)

	c1 := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c1, f.issue(t, "cust-1", sc, time.Minute), sc))
	f.reg.Drop("conn-1", "disconnect")

	c2 := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c2, f.issue(t, "cust-1", sc, time.Minute), sc))
	assert.Equal(t, 1, f.reg.Len())

	publish(t, f.bus, sc, "ev-1")
	require.Eventually(t, func() bool { return len(c2.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, c1.events())
}

func TestPushFailureDropsOnlyThatConnection(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	sc := scope.Store("s-1")
	f.own.set("op-1", sc, true)
	f.own.set("op-2", sc, true)

	dead := newFakeConn()
	dead.pushErr = errors.New("broken pipe")
	live := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-dead", dead, f.issue(t, "op-1", sc, time.Minute), sc))
	require.NoError(t, f.reg.Admit(context.Background(), "conn-live", live, f.issue(t, "op-2", sc, time.Minute), sc))

	publish(t, f.bus, sc, "ev-1")

	require.Eventually(t, func() bool { return len(live.events()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "push_failed", dead.closeReason())
}

func TestTokenExpiryDropsConnection(t *testing.T) {
	f := newFixture(t, 0, 20*time.Millisecond)
	sc := scope.Order("o-1")
	f.own.set("cust-1", sc, true)

	c := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c, f.issue(t, "cust-1", sc, 50*time.Millisecond), sc))

	select {
	case <-c.closed:
		assert.Equal(t, ReasonExpired, c.closeReason())
	case <-time.After(2 * time.Second):
		t.Fatal("connection must drop once the token expires")
	}
	assert.Equal(t, 0, f.reg.Len())
}

func TestPeriodicRecheckDropsRevokedOwnership(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, time.Second)
	sc := scope.Store("s-1")
	f.own.set("op-1", sc, true)

	c := newFakeConn()
	require.NoError(t, f.reg.Admit(context.Background(), "conn-1", c, f.issue(t, "op-1", sc, time.Minute), sc))

	// store reassigned after admit
	f.own.set("op-1", sc, false)

	select {
	case <-c.closed:
		assert.Equal(t, ReasonUnauthorized, c.closeReason())
	case <-time.After(2 * time.Second):
		t.Fatal("re-check must drop the connection after ownership changes")
	}
	assert.Equal(t, 0, f.reg.Len())
}
