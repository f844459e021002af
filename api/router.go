// Package api exposes the order distribution service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/kilianp07/mes/core/journal"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/production"
	"github.com/kilianp07/mes/core/store"
)

// Service is the command and query surface used by the handlers.
type Service interface {
	CreateOrder(ctx context.Context, description string, quantity int, material string) (model.Order, error)
	GetOrders(ctx context.Context) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (production.OrderDetail, error)
	SetCapacity(ctx context.Context, shopfloor string, capacity int) error
	GetCapacities(ctx context.Context) ([]model.Shopfloor, error)
	GetReports(ctx context.Context, f store.ReportFilter) ([]model.SubOrderReport, error)
	GetShopfloorOrders(ctx context.Context, shopfloor string) ([]model.SubOrderReport, error)
	GetHeartbeats(ctx context.Context) ([]liveness.Entry, error)
	GetAnalyticsSummary(ctx context.Context) (production.Summary, error)
}

var _ Service = (*production.Service)(nil)

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// JournalToken, when set, must be sent as "Bearer <token>" to read the
	// journal.
	JournalToken string
	// Timeout bounds each request.
	Timeout time.Duration
}

// NewRouter wires every route. Journal may be nil, in which case
// GET /journal answers 404.
func NewRouter(svc Service, j journal.Store, opts Options, log logger.Logger) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	h := &handlers{svc: svc, journal: j, log: log}

	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}).Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
	})
	r.Get("/capacities", h.listCapacities)
	r.Post("/capacities", h.setCapacity)
	r.Get("/reports", h.listReports)
	r.Get("/shopfloors/{name}/orders", h.shopfloorOrders)
	r.Get("/heartbeats", h.heartbeats)
	r.Get("/analytics", h.analytics)
	r.With(bearer(opts.JournalToken)).Get("/journal", h.queryJournal)
	return r
}

type handlers struct {
	svc     Service
	journal journal.Store
	log     logger.Logger
}

// bearer rejects requests without the expected Authorization header. An
// empty token disables the check.
func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
