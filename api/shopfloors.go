package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// SetCapacityRequest is the body of POST /capacities. Capacity is a pointer
// so that a missing value is told apart from zero.
type SetCapacityRequest struct {
	Shopfloor string `json:"shopfloor"`
	Capacity  *int   `json:"capacity"`
}

func (h *handlers) listCapacities(w http.ResponseWriter, r *http.Request) {
	sfs, err := h.svc.GetCapacities(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, sfs)
}

func (h *handlers) setCapacity(w http.ResponseWriter, r *http.Request) {
	var req SetCapacityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Capacity == nil {
		writeError(w, r, http.StatusBadRequest, "capacity is required")
		return
	}
	if err := h.svc.SetCapacity(r.Context(), req.Shopfloor, *req.Capacity); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, StatusResponse{Status: "ok"})
}

// listReports accepts order_id, shopfloor and status query filters.
func (h *handlers) listReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reports, err := h.svc.GetReports(r.Context(), store.ReportFilter{
		OrderID:   q.Get("order_id"),
		Shopfloor: q.Get("shopfloor"),
		Status:    model.Status(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.SubOrderReport{}
	}
	ok(w, r, reports)
}

func (h *handlers) shopfloorOrders(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.GetShopfloorOrders(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.SubOrderReport{}
	}
	ok(w, r, reports)
}

func (h *handlers) heartbeats(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.GetHeartbeats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, entries)
}

func (h *handlers) analytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetAnalyticsSummary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, summary)
}
