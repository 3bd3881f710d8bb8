package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("concurrent transition conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrNotEditable       = errors.New("order no longer editable")
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, store_id, customer_id, status, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.StoreID, &o.CustomerID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, name, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) Create(ctx context.Context, storeID, customerID string, items []Item) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o := Order{
		ID:         uuid.NewString(),
		StoreID:    storeID,
		CustomerID: customerID,
		Status:     StatusCreated,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, store_id, customer_id, status)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		o.ID, o.StoreID, o.CustomerID, o.Status).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, name, qty, price_cents)
			VALUES ($1,$2,$3,$4)`, o.ID, it.Name, it.Qty, it.PriceCents); err != nil {
			return Order{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

// UpdateStatusCAS flips the status only when the row still holds the
// expected prior status. Zero rows affected while the order exists means
// another writer won: the caller gets ErrConflict, never a lost update.
func (r *Repo) UpdateStatusCAS(ctx context.Context, orderID string, from, to Status, actor string) (time.Time, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var at time.Time
	err = tx.QueryRow(ctx, `
		UPDATE orders SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING updated_at`, orderID, from, to).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race, or the id is bogus; look again to tell which
		var cur string
		err2 := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&cur)
		if errors.Is(err2, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		if err2 != nil {
			return time.Time{}, err2
		}
		return time.Time{}, ErrConflict
	}
	if err != nil {
		return time.Time{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_transitions(order_id, from_status, to_status, actor, occurred_at)
		VALUES ($1,$2,$3,$4,$5)`, orderID, from, to, actor, at); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// AddItem appends a line item while the order still accepts edits.
// The status check runs under a row lock so a concurrent confirm cannot
// sneak an item into an already-confirmed order.
func (r *Repo) AddItem(ctx context.Context, orderID string, it Item) (Item, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	if Status(cur) != StatusCreated {
		return Item{}, ErrNotEditable
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO order_items(order_id, name, qty, price_cents)
		VALUES ($1,$2,$3,$4)
		RETURNING id`, orderID, it.Name, it.Qty, it.PriceCents).Scan(&it.ID)
	if err != nil {
		return Item{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET updated_at=now() WHERE id=$1`, orderID); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Item{}, err
	}
	it.OrderID = orderID
	return it, nil
}

func (r *Repo) Transitions(ctx context.Context, orderID string) ([]Transition, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor, occurred_at
		FROM order_transitions WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.OrderID, &t.From, &t.To, &t.Actor, &t.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
