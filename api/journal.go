package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/mes/core/journal"
)

// queryJournal serves GET /journal?order_id=&shopfloor=&kind=&start=&end=&limit=
// with RFC3339 start and end.
func (h *handlers) queryJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, r, http.StatusNotFound, "journal is disabled")
		return
	}
	v := r.URL.Query()
	q := journal.Query{
		OrderID:   v.Get("order_id"),
		Shopfloor: v.Get("shopfloor"),
		Kind:      v.Get("kind"),
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Start, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
			return
		}
	}
	if s := v.Get("end"); s != "" {
		if q.End, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
			return
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	records, err := h.journal.Query(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	ok(w, r, records)
}
