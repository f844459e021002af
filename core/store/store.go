// Package store defines the persistence collaborators used by the ledger,
// the reconciler, the liveness tracker and order intake.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/mes/core/model"
)

// CapacityStore persists shopfloor capacity and load.
type CapacityStore interface {
	// ListShopfloors returns every shopfloor sorted by ID.
	ListShopfloors(ctx context.Context) ([]model.Shopfloor, error)
	// GetShopfloor returns model.ErrNotFound for unknown IDs.
	GetShopfloor(ctx context.Context, id string) (model.Shopfloor, error)
	// UpsertCapacity sets the capacity, creating the shopfloor with zero
	// load if needed. An existing load is preserved.
	UpsertCapacity(ctx context.Context, id string, capacity int, at time.Time) error
	// SeedShopfloor creates the shopfloor only if it does not exist yet.
	SeedShopfloor(ctx context.Context, id string, capacity int, at time.Time) (bool, error)
	// SetLoad replaces the current load of an existing shopfloor.
	SetLoad(ctx context.Context, id string, load int, at time.Time) error
}

// OrderStore persists orders together with their sub-order reports.
type OrderStore interface {
	// CreateOrder stores the order and its initial sub-orders atomically.
	CreateOrder(ctx context.Context, o model.Order, subs []model.SubOrderReport) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context) ([]model.Order, error)
	// CompleteOrder moves an order to Completed. It is a no-op for orders
	// already completed and reports whether a transition happened.
	CompleteOrder(ctx context.Context, id string, at time.Time) (bool, error)
}

// ReportFilter narrows ListReports. Empty fields match everything.
type ReportFilter struct {
	OrderID   string
	Shopfloor string
	Status    model.Status
}

// Match reports whether r satisfies the filter.
func (f ReportFilter) Match(r model.SubOrderReport) bool {
	if f.OrderID != "" && r.OrderID != f.OrderID {
		return false
	}
	if f.Shopfloor != "" && r.Shopfloor != f.Shopfloor {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// ReportStore persists sub-order reports keyed by (order, shopfloor).
type ReportStore interface {
	GetReport(ctx context.Context, orderID, shopfloor string) (model.SubOrderReport, error)
	// PutReport replaces the stored report for its (order, shopfloor) key.
	PutReport(ctx context.Context, r model.SubOrderReport) error
	// ListReports returns matching reports, most recently updated first.
	ListReports(ctx context.Context, f ReportFilter) ([]model.SubOrderReport, error)
}

// HeartbeatStore persists the last heartbeat of every shopfloor.
type HeartbeatStore interface {
	PutHeartbeat(ctx context.Context, hb model.Heartbeat) error
	// GetHeartbeat returns model.ErrNotFound for shopfloors never seen.
	GetHeartbeat(ctx context.Context, shopfloor string) (model.Heartbeat, error)
	// ListHeartbeats returns heartbeats sorted by shopfloor.
	ListHeartbeats(ctx context.Context) ([]model.Heartbeat, error)
}

// Store groups every persistence concern of the service.
type Store interface {
	CapacityStore
	OrderStore
	ReportStore
	HeartbeatStore
	Close() error
}
