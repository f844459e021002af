package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/kilianp07/mes/core/model"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, reason string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: reason})
}

// fail maps service errors onto status codes: validation errors are 400
// with their reason, unknown keys 404, anything else 500.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, ve.Reason)
	case errors.Is(err, model.ErrNoShopfloors):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		h.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func ok(w http.ResponseWriter, r *http.Request, v any) {
	render.JSON(w, r, v)
}
