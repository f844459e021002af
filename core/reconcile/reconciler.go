// Package reconcile applies shopfloor production reports to sub-orders and
// aggregates them into order completion.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/internal/keylock"
)

// Completion reasons carried by events.OrderCompleted.
const (
	ReasonAllCompleted    = "all_completed"
	ReasonQuantityReached = "quantity_reached"
)

// LoadRecomputer is the part of the ledger used after a sub-order changed.
type LoadRecomputer interface {
	RecomputeLoad(ctx context.Context, shopfloor string) (int, error)
}

// Store is the persistence needed by the reconciler.
type Store interface {
	store.OrderStore
	store.ReportStore
}

// Outcome describes what a report did.
type Outcome struct {
	Report model.SubOrderReport
	// Changed is false when the report was a duplicate or arrived after the
	// sub-order completed.
	Changed bool
	// OrderCompleted is true only for the report that completed the order.
	OrderCompleted bool
}

// Reconciler consumes reports. Reports for one order are serialized through
// the order key; load updates go through the shopfloor key held by the ledger.
type Reconciler struct {
	store   Store
	ledger  LoadRecomputer
	locks   *keylock.Locker
	clock   clock.Clock
	log     logger.Logger
	metrics metrics.MetricsSink
	bus     events.Publisher
}

// New creates a Reconciler.
func New(s Store, ledger LoadRecomputer, locks *keylock.Locker, clk clock.Clock, log logger.Logger, sink metrics.MetricsSink, bus events.Publisher) *Reconciler {
	if locks == nil {
		locks = keylock.New()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Reconciler{
		store:   s,
		ledger:  ledger,
		locks:   locks,
		clock:   clk,
		log:     log,
		metrics: metrics.OrNop(sink),
		bus:     events.OrDiscard(bus),
	}
}

// Validate checks the fields every report must carry.
func Validate(r model.Report) error {
	switch {
	case r.OrderID == "":
		return fmt.Errorf("%w: missing OrderID", model.ErrMalformedReport)
	case r.Shopfloor == "":
		return fmt.Errorf("%w: missing Shopfloor", model.ErrMalformedReport)
	case r.Produced < 0 || r.Defective < 0:
		return fmt.Errorf("%w: negative counts", model.ErrMalformedReport)
	case r.Status != "" && !r.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", model.ErrMalformedReport, r.Status)
	}
	return nil
}

// HandleReport applies one report. Produced and Defective are absolute
// counts: a stored count never decreases, so replays are harmless. Reports
// without a status are treated as Completed, which is what shopfloors send
// when they finish a batch.
func (r *Reconciler) HandleReport(ctx context.Context, rep model.Report) (Outcome, error) {
	if err := Validate(rep); err != nil {
		return Outcome{}, err
	}
	if rep.Status == "" {
		rep.Status = model.StatusCompleted
	}

	var out Outcome
	var prev model.SubOrderReport
	err := r.locks.With(keylock.OrderKey(rep.OrderID), func() error {
		order, err := r.store.GetOrder(ctx, rep.OrderID)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: unknown order %s", model.ErrUnroutable, rep.OrderID)
		}
		if err != nil {
			return fmt.Errorf("get order %s: %w", rep.OrderID, err)
		}
		cur, err := r.store.GetReport(ctx, rep.OrderID, rep.Shopfloor)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: no sub-order for %s on %s", model.ErrUnroutable, rep.OrderID, rep.Shopfloor)
		}
		if err != nil {
			return fmt.Errorf("get sub-order %s/%s: %w", rep.OrderID, rep.Shopfloor, err)
		}
		prev = cur

		next, changed := apply(cur, rep, r.clock)
		out.Report = next
		out.Changed = changed
		if !changed {
			return nil
		}
		if err := r.store.PutReport(ctx, next); err != nil {
			return fmt.Errorf("put sub-order %s/%s: %w", rep.OrderID, rep.Shopfloor, err)
		}
		if order.Completed() {
			return nil
		}
		reason, err := r.completion(ctx, order)
		if err != nil || reason == "" {
			return err
		}
		now := r.clock.Now()
		moved, err := r.store.CompleteOrder(ctx, order.ID, now)
		if err != nil {
			return fmt.Errorf("complete order %s: %w", order.ID, err)
		}
		if moved {
			out.OrderCompleted = true
			r.log.Infof("order %s completed (%s)", order.ID, reason)
			r.bus.Publish(events.OrderCompleted{OrderID: order.ID, Reason: reason, Time: now})
			r.recordOrder(order, now)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !out.Changed {
		r.log.Debugw("report ignored", map[string]any{
			"order_id":  rep.OrderID,
			"shopfloor": rep.Shopfloor,
			"status":    out.Report.Status,
		})
		return out, nil
	}

	r.bus.Publish(events.SubOrderUpdated{Report: out.Report, Previous: prev})
	if err := r.metrics.RecordReport(metrics.ReportEvent{
		OrderID:   out.Report.OrderID,
		Shopfloor: out.Report.Shopfloor,
		Produced:  out.Report.Produced,
		Defective: out.Report.Defective,
		Completed: out.Report.Completed(),
		Time:      out.Report.UpdatedAt,
	}); err != nil {
		r.log.Errorf("report metrics error: %v", err)
	}
	if _, err := r.ledger.RecomputeLoad(ctx, rep.Shopfloor); err != nil {
		return out, fmt.Errorf("recompute load %s: %w", rep.Shopfloor, err)
	}
	return out, nil
}

// apply merges a report into the stored sub-order. It returns the new state
// and whether anything changed.
func apply(cur model.SubOrderReport, rep model.Report, clk clock.Clock) (model.SubOrderReport, bool) {
	if cur.Completed() {
		return cur, false
	}
	next := cur
	if rep.Produced > next.Produced {
		next.Produced = rep.Produced
	}
	if rep.Defective > next.Defective {
		next.Defective = rep.Defective
	}
	if next.Defective > next.Produced {
		next.Defective = next.Produced
	}
	if rep.Status == model.StatusCompleted || (next.Assigned > 0 && next.Produced >= next.Assigned) {
		next.Status = model.StatusCompleted
	}
	if next == cur {
		return cur, false
	}
	now := clk.Now()
	next.UpdatedAt = now
	if next.Completed() {
		next.CompletedAt = &now
	}
	return next, true
}

// completion returns the reason the order is now complete, or "".
func (r *Reconciler) completion(ctx context.Context, order model.Order) (string, error) {
	subs, err := r.store.ListReports(ctx, store.ReportFilter{OrderID: order.ID})
	if err != nil {
		return "", fmt.Errorf("list sub-orders of %s: %w", order.ID, err)
	}
	if len(subs) == 0 {
		return "", nil
	}
	all := true
	produced := 0
	for _, s := range subs {
		if !s.Completed() {
			all = false
		}
		produced += s.Produced
	}
	switch {
	case all:
		return ReasonAllCompleted, nil
	case produced >= order.Quantity:
		return ReasonQuantityReached, nil
	}
	return "", nil
}

func (r *Reconciler) recordOrder(o model.Order, at time.Time) {
	ev := metrics.OrderEvent{
		OrderID:      o.ID,
		Material:     o.Material,
		Quantity:     o.Quantity,
		Distribution: o.Distribution,
		Completed:    true,
		LeadTime:     at.Sub(o.CreatedAt),
		Time:         at,
	}
	if err := r.metrics.RecordOrder(ev); err != nil {
		r.log.Errorf("order metrics error: %v", err)
	}
}
