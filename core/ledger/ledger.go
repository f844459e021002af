// Package ledger maintains per-shopfloor capacity and load. Load is always
// recomputed from the open sub-orders of a shopfloor, never adjusted
// incrementally.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/internal/keylock"
)

// Store is the persistence needed by the ledger.
type Store interface {
	store.CapacityStore
	store.ReportStore
}

// Ledger serializes capacity and load updates per shopfloor.
type Ledger struct {
	store   Store
	locks   *keylock.Locker
	clock   clock.Clock
	log     logger.Logger
	metrics metrics.MetricsSink
}

// New creates a Ledger. The Locker is shared with the reconciler so that both
// paths touching a shopfloor funnel through the same mutex.
func New(s Store, locks *keylock.Locker, clk clock.Clock, log logger.Logger, sink metrics.MetricsSink) *Ledger {
	if locks == nil {
		locks = keylock.New()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{store: s, locks: locks, clock: clk, log: log, metrics: metrics.OrNop(sink)}
}

// GetAll returns a snapshot of every shopfloor sorted by ID. The order is
// the one used by the planner for remainder assignment.
func (l *Ledger) GetAll(ctx context.Context) ([]model.Shopfloor, error) {
	all, err := l.store.ListShopfloors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shopfloors: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// SetCapacity upserts the capacity of a shopfloor, preserving its load.
func (l *Ledger) SetCapacity(ctx context.Context, shopfloor string, capacity int) error {
	if shopfloor == "" {
		return model.Invalid(model.ErrMissingField, "shopfloor is required")
	}
	if capacity < 0 {
		return model.Invalid(model.ErrInvalidCapacity, "capacity must be >= 0, got %d", capacity)
	}
	return l.locks.With(keylock.ShopfloorKey(shopfloor), func() error {
		if err := l.store.UpsertCapacity(ctx, shopfloor, capacity, l.clock.Now()); err != nil {
			return fmt.Errorf("set capacity %s: %w", shopfloor, err)
		}
		l.log.Infof("capacity of %s set to %d", shopfloor, capacity)
		return nil
	})
}

// Seed creates the given shopfloors with their default capacity and zero
// load. Existing shopfloors are left untouched.
func (l *Ledger) Seed(ctx context.Context, defaults map[string]int) error {
	ids := make([]string, 0, len(defaults))
	for id := range defaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		capacity := defaults[id]
		if capacity < 0 {
			return model.Invalid(model.ErrInvalidCapacity, "default capacity of %s must be >= 0", id)
		}
		created, err := l.store.SeedShopfloor(ctx, id, capacity, l.clock.Now())
		if err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
		if created {
			l.log.Infof("seeded %s with capacity %d", id, capacity)
		}
	}
	return nil
}

// RecomputeLoad replaces the load of shopfloor with the outstanding quantity
// of its InProgress sub-orders and returns the new value.
func (l *Ledger) RecomputeLoad(ctx context.Context, shopfloor string) (int, error) {
	var load int
	err := l.locks.With(keylock.ShopfloorKey(shopfloor), func() error {
		var err error
		load, err = l.recompute(ctx, shopfloor)
		return err
	})
	return load, err
}

func (l *Ledger) recompute(ctx context.Context, shopfloor string) (int, error) {
	open, err := l.store.ListReports(ctx, store.ReportFilter{Shopfloor: shopfloor, Status: model.StatusInProgress})
	if err != nil {
		return 0, fmt.Errorf("list open reports of %s: %w", shopfloor, err)
	}
	load := 0
	for _, r := range open {
		load += r.Outstanding()
	}
	now := l.clock.Now()
	if err := l.store.SetLoad(ctx, shopfloor, load, now); err != nil {
		return 0, fmt.Errorf("set load %s: %w", shopfloor, err)
	}
	capacity := 0
	if sf, err := l.store.GetShopfloor(ctx, shopfloor); err == nil {
		capacity = sf.Capacity
	}
	if err := l.metrics.RecordLoad(metrics.LoadEvent{Shopfloor: shopfloor, Capacity: capacity, Load: load, Time: now}); err != nil {
		l.log.Errorf("load metrics error: %v", err)
	}
	l.log.Debugw("load recomputed", map[string]any{"shopfloor": shopfloor, "load": load, "open_suborders": len(open)})
	return load, nil
}
