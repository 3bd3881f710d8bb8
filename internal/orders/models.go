package orders

import "time"

type Order struct {
	ID         string
	StoreID    string
	CustomerID string
	Status     Status
	Items      []Item
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Item struct {
	ID         int64
	OrderID    string
	Name       string
	Qty        int
	PriceCents int
}

// Transition is one row of the per-order audit trail; the timestamps
// the data model requires per status change live here.
type Transition struct {
	ID         int64
	OrderID    string
	From       Status
	To         Status
	Actor      string
	OccurredAt time.Time
}
