package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenUnknown = errors.New("token unknown")
	ErrInvalidScope = errors.New("invalid scope")
)

// Token is the opaque realtime-access credential handed to clients.
// Reusable until expiry; Record tolerates growing a revoked flag later.
type Token struct {
	ID        string
	Identity  string
	Scope     scope.Scope
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Claims struct {
	Identity  string
	Scope     scope.Scope
	ExpiresAt time.Time
}

// Record is the wire form kept in the shared store so any instance can
// validate a token regardless of which one issued it.
type Record struct {
	Identity  string    `json:"identity"`
	ScopeKind string    `json:"scope_kind"`
	ScopeID   string    `json:"scope_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the shared token store. Set must apply the ttl as the record
// lifetime; Get returns ok=false when the key is gone.
type Store interface {
	Set(ctx context.Context, id string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) (value []byte, ok bool, err error)
}

type Service struct {
	Store  Store
	MaxTTL time.Duration
	// Grace keeps the record around past expiry so Validate can tell
	// "expired" apart from "never existed".
	Grace time.Duration

	now func() time.Time
}

func NewService(store Store, maxTTL, grace time.Duration) *Service {
	return &Service{Store: store, MaxTTL: maxTTL, Grace: grace, now: time.Now}
}

func (s *Service) Issue(ctx context.Context, identity string, sc scope.Scope, ttl time.Duration) (Token, error) {
	if identity == "" || !sc.Valid() {
		return Token{}, fmt.Errorf("%w: identity=%q scope=%q", ErrInvalidScope, identity, sc)
	}
	if ttl <= 0 || ttl > s.MaxTTL {
		ttl = s.MaxTTL
	}
	now := s.now().UTC()
	t := Token{
		ID:        uuid.NewString(),
		Identity:  identity,
		Scope:     sc,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	rec := Record{
		Identity:  t.Identity,
		ScopeKind: string(sc.Kind),
		ScopeID:   sc.ID,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return Token{}, err
	}
	if err := s.Store.Set(ctx, t.ID, b, ttl+s.Grace); err != nil {
		return Token{}, fmt.Errorf("store token: %w", err)
	}
	return t, nil
}

// Validate resolves a token id to its claims. Store errors map to
// ErrTokenUnknown: an unverifiable token admits nobody.
func (s *Service) Validate(ctx context.Context, id string) (Claims, error) {
	if id == "" {
		return Claims{}, ErrTokenUnknown
	}
	b, ok, err := s.Store.Get(ctx, id)
	if err != nil || !ok {
		return Claims{}, ErrTokenUnknown
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Claims{}, ErrTokenUnknown
	}
	if !s.now().UTC().Before(rec.ExpiresAt) {
		return Claims{}, ErrTokenExpired
	}
	sc := scope.Scope{Kind: scope.Kind(rec.ScopeKind), ID: rec.ScopeID}
	if !sc.Valid() {
		return Claims{}, ErrTokenUnknown
	}
	return Claims{Identity: rec.Identity, Scope: sc, ExpiresAt: rec.ExpiresAt}, nil
}
