package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore resolves ownership from the orders/stores tables. A customer
// owns the orders they placed; a store operator additionally sees every
// order of their store.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) OwnsOrder(ctx context.Context, identity, orderID string) (bool, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders o
		LEFT JOIN stores st ON st.id = o.store_id
		WHERE o.id = $1 AND (o.customer_id = $2 OR st.operator_id = $2)`,
		orderID, identity).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) OperatesStore(ctx context.Context, identity, storeID string) (bool, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM stores WHERE id = $1 AND operator_id = $2`,
		storeID, identity).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
