package orders

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Table maps a status to its allowed successors. Injected into the
// Service so the cancellation policy is configuration, not code.
type Table map[Status]map[Status]bool

// DefaultTable: cancellation is open until the kitchen marks the order
// ready; after that only completion remains.
func DefaultTable() Table {
	return Table{
		StatusCreated:   {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
		StatusPreparing: {StatusReady: true, StatusCancelled: true},
		StatusReady:     {StatusCompleted: true},
		StatusCompleted: {},
		StatusCancelled: {},
	}
}

func (t Table) CanTransition(from, to Status) bool {
	return t[from][to]
}

func (t Table) Terminal(s Status) bool {
	return len(t[s]) == 0
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
