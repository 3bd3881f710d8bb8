package orders

// Payload shapes carried inside bus events. The bus treats them as
// opaque bytes; subscribers decode by event kind.

type StateChangedPayload struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor,omitempty"`
}

type ItemAddedPayload struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
	Qty     int    `json:"qty"`
}

// TransitionRequest is the command consumed by the transitioner worker;
// the storefront's HTTP layer produces it.
type TransitionRequest struct {
	EventID string `json:"event_id"`
	OrderID string `json:"order_id"`
	Target  string `json:"target"`
	Actor   string `json:"actor"`
}
