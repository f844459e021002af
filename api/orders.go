package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Material    string `json:"material"`
}

// CreateOrderResponse acknowledges a new order.
type CreateOrderResponse struct {
	Status       string         `json:"status"`
	OrderID      string         `json:"orderID"`
	Distribution map[string]int `json:"distribution"`
}

// StatusResponse acknowledges a command without payload.
type StatusResponse struct {
	Status string `json:"status"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), req.Description, req.Quantity, req.Material)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateOrderResponse{Status: "ok", OrderID: order.ID, Distribution: order.Distribution})
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.GetOrders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, orders)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, detail)
}
