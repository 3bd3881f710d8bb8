package auth

import (
	"context"
	"time"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

// Verdict is deliberately not a bool: the unresolved and error paths
// must be spelled out, and all of them read as denied.
type Verdict int

const (
	Denied Verdict = iota
	Allowed
)

type Decision struct {
	Verdict Verdict
	// Reason is set on denials: "unauthorized", "timeout", "lookup_error",
	// "invalid_scope".
	Reason string
}

func (d Decision) Allowed() bool { return d.Verdict == Allowed }

// OwnershipStore answers whether an identity may watch a resource right
// now. Implementations hit storage; callers expect latency.
type OwnershipStore interface {
	OwnsOrder(ctx context.Context, identity, orderID string) (bool, error)
	OperatesStore(ctx context.Context, identity, storeID string) (bool, error)
}

type Authorizer struct {
	Store   OwnershipStore
	Timeout time.Duration
}

// Authorize re-checks ownership against storage. It runs at token
// issuance and again at connection admit; the second run is what catches
// ownership changes between the two. Every failure mode is a denial.
func (a *Authorizer) Authorize(ctx context.Context, identity string, sc scope.Scope) Decision {
	if identity == "" || !sc.Valid() {
		return Decision{Verdict: Denied, Reason: "invalid_scope"}
	}
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var ok bool
	var err error
	switch sc.Kind {
	case scope.KindOrder:
		ok, err = a.Store.OwnsOrder(ctx, identity, sc.ID)
	case scope.KindStore:
		ok, err = a.Store.OperatesStore(ctx, identity, sc.ID)
	default:
		return Decision{Verdict: Denied, Reason: "invalid_scope"}
	}
	if err != nil {
		if ctx.Err() != nil {
			return Decision{Verdict: Denied, Reason: "timeout"}
		}
		return Decision{Verdict: Denied, Reason: "lookup_error"}
	}
	if !ok {
		return Decision{Verdict: Denied, Reason: "unauthorized"}
	}
	return Decision{Verdict: Allowed}
}
