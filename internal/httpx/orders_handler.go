package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaxa2505/fudly-bot-sub003/internal/orders"
)

// OrdersHandler is the thin wiring the storefront's CRUD layer uses to
// drive the state machine; it is not that layer itself.
type OrdersHandler struct {
	Repo    *orders.Repo
	Service *orders.Service
}

type CreateOrderReq struct {
	StoreID    string          `json:"store_id"`
	CustomerID string          `json:"customer_id"`
	Items      []CreateItemReq `json:"items"`
}

type CreateItemReq struct {
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

type TransitionReq struct {
	Target string `json:"target"`
	Actor  string `json:"actor"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	g := WithTimeout(r)
	g.Post("/orders", h.createOrder)
	g.Get("/orders/{id}", h.getOrder)
	g.Post("/orders/{id}/transition", h.transition)
	g.Post("/orders/{id}/items", h.addItem)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.StoreID == "" || req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	items := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.Item{Name: it.Name, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	o, err := h.Repo.Create(r.Context(), req.StoreID, req.CustomerID, items)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order_id": o.ID, "status": o.Status})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":    o.ID,
		"store_id":    o.StoreID,
		"customer_id": o.CustomerID,
		"status":      o.Status,
		"updated_at":  o.UpdatedAt,
	})
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.Qty <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	it, err := h.Service.AddItem(r.Context(), chi.URLParam(r, "id"),
		orders.Item{Name: req.Name, Qty: req.Qty, PriceCents: req.PriceCents})
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrNotEditable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"item_id": it.ID, "order_id": it.OrderID})
	}
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	o, err := h.Service.Transition(r.Context(), chi.URLParam(r, "id"), orders.Status(req.Target), req.Actor)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrInvalidStatus):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrConflict):
		// caller re-fetches and decides; no server-side retry
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"order_id": o.ID, "status": o.Status, "updated_at": o.UpdatedAt})
	}
}
