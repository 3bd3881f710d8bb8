package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables the realtime core reads and writes.
// Safe to run on every start.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id          TEXT PRIMARY KEY,
			store_id    TEXT NOT NULL REFERENCES stores(id),
			customer_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id          BIGSERIAL PRIMARY KEY,
			order_id    TEXT NOT NULL REFERENCES orders(id),
			name        TEXT NOT NULL,
			qty         INT NOT NULL,
			price_cents INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_transitions (
			id          BIGSERIAL PRIMARY KEY,
			order_id    TEXT NOT NULL REFERENCES orders(id),
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			actor       TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_store ON orders(store_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_order ON order_transitions(order_id)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
