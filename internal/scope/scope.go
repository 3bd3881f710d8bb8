package scope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindOrder Kind = "order"
	KindStore Kind = "store"
)

var ErrInvalidScope = errors.New("invalid resource scope")

// Scope identifies what a token or subscription grants access to:
// a single order or a single store.
type Scope struct {
	Kind Kind
	ID   string
}

func Order(id string) Scope { return Scope{Kind: KindOrder, ID: id} }
func Store(id string) Scope { return Scope{Kind: KindStore, ID: id} }

func (s Scope) Valid() bool {
	if s.ID == "" || strings.ContainsAny(s.ID, ": \t\n") {
		return false
	}
	return s.Kind == KindOrder || s.Kind == KindStore
}

func (s Scope) String() string { return string(s.Kind) + ":" + s.ID }

// Key doubles as the bus partition key so all events for one scope
// keep their order.
func (s Scope) Key() []byte { return []byte(s.String()) }

// MarshalJSON writes the "kind:id" wire form.
func (s Scope) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Scope) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse accepts the "kind:id" wire form, e.g. "order:7f3a..." or "store:12".
func Parse(raw string) (Scope, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	s := Scope{Kind: Kind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return s, nil
}
