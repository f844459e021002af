// Package production is the command and query surface of the order
// distribution core. Request layers (HTTP, CLI) call into Service; the
// asynchronous side lives in core/dispatch and core/reconcile.
package production

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/ledger"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/monitoring"
	"github.com/kilianp07/mes/core/planner"
	"github.com/kilianp07/mes/core/store"
)

// InstructionSender publishes the instructions of a new order.
type InstructionSender interface {
	Send(ctx context.Context, o model.Order) []dispatch.SendResult
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Planner planner.Planner
	Sender  InstructionSender
	Tracker *liveness.Tracker
	Clock   clock.Clock
	Logger  logger.Logger
	Metrics metrics.MetricsSink
	Bus     events.Publisher
}

// Service exposes order intake and the read side.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	planner planner.Planner
	sender  InstructionSender
	tracker *liveness.Tracker
	clock   clock.Clock
	log     logger.Logger
	metrics metrics.MetricsSink
	bus     events.Publisher

	intake sync.Mutex
	lastID int64
}

// New creates a Service. Planner defaults to planner.Proportional.
func New(d Deps) *Service {
	if d.Planner == nil {
		d.Planner = planner.Proportional{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		planner: d.Planner,
		sender:  d.Sender,
		tracker: d.Tracker,
		clock:   d.Clock,
		log:     d.Logger,
		metrics: metrics.OrNop(d.Metrics),
		bus:     events.OrDiscard(d.Bus),
	}
}

// CreateOrder validates, distributes and persists an order, then sends one
// instruction per shopfloor with a nonzero allocation. A failed publish does
// not undo the order: it stays InProgress and the failure is logged.
func (s *Service) CreateOrder(ctx context.Context, description string, quantity int, material string) (model.Order, error) {
	description = strings.TrimSpace(description)
	material = strings.TrimSpace(material)
	if quantity <= 0 {
		return model.Order{}, model.Invalid(model.ErrInvalidQuantity, "quantity must be greater than 0, got %d", quantity)
	}
	if description == "" {
		return model.Order{}, model.InvalidOrder(model.ErrMissingField, "description is required")
	}
	if material == "" {
		return model.Order{}, model.InvalidOrder(model.ErrMissingField, "material is required")
	}

	order, err := s.place(ctx, description, quantity, material)
	if err != nil {
		return model.Order{}, err
	}

	s.bus.Publish(events.OrderCreated{Order: order})
	if err := s.metrics.RecordOrder(metrics.OrderEvent{
		OrderID:      order.ID,
		Material:     order.Material,
		Quantity:     order.Quantity,
		Distribution: order.Distribution,
		Time:         order.CreatedAt,
	}); err != nil {
		s.log.Errorf("order metrics error: %v", err)
	}

	failed := 0
	if s.sender != nil {
		for _, r := range s.sender.Send(ctx, order) {
			if r.Err != nil {
				failed++
			}
		}
	}
	s.log.Infof("order %s created: %d %s over %d shopfloors (%d publish failures)",
		order.ID, order.Quantity, order.Material, len(nonZero(order.Distribution)), failed)
	return order, nil
}

// place runs under the intake mutex so that two creations never plan against
// the same snapshot.
func (s *Service) place(ctx context.Context, description string, quantity int, material string) (model.Order, error) {
	s.intake.Lock()
	defer s.intake.Unlock()

	snapshot, err := s.ledger.GetAll(ctx)
	if err != nil {
		return model.Order{}, err
	}
	dist, err := s.planner.Distribute(quantity, snapshot)
	if err != nil {
		return model.Order{}, err
	}

	now := s.clock.Now()
	order := model.Order{
		ID:           s.nextID(now.UnixMilli()),
		Description:  description,
		Material:     material,
		Quantity:     quantity,
		Status:       model.StatusInProgress,
		CreatedAt:    now,
		Distribution: dist,
	}
	allocated := nonZero(dist)
	subs := make([]model.SubOrderReport, 0, len(allocated))
	for _, sf := range allocated {
		subs = append(subs, model.SubOrderReport{
			OrderID:   order.ID,
			Shopfloor: sf,
			Assigned:  dist[sf],
			Status:    model.StatusInProgress,
			UpdatedAt: now,
		})
	}
	if err := s.store.CreateOrder(ctx, order, subs); err != nil {
		return model.Order{}, fmt.Errorf("create order %s: %w", order.ID, err)
	}
	for _, sf := range allocated {
		if _, err := s.ledger.RecomputeLoad(ctx, sf); err != nil {
			s.log.Errorf("order %s: %v", order.ID, err)
			monitoring.Capture("production", err, "order_id", order.ID, "shopfloor", sf)
		}
	}
	return order, nil
}

// nextID returns ORD-<unix ms>, bumped past the previous ID when two orders
// land in the same millisecond.
func (s *Service) nextID(ms int64) string {
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return fmt.Sprintf("ORD-%d", ms)
}

func nonZero(dist map[string]int) []string {
	ids := make([]string, 0, len(dist))
	for sf, q := range dist {
		if q > 0 {
			ids = append(ids, sf)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetCapacity updates the capacity of a shopfloor.
func (s *Service) SetCapacity(ctx context.Context, shopfloor string, capacity int) error {
	return s.ledger.SetCapacity(ctx, strings.TrimSpace(shopfloor), capacity)
}

// GetCapacities returns every shopfloor with its capacity and load.
func (s *Service) GetCapacities(ctx context.Context) ([]model.Shopfloor, error) {
	return s.ledger.GetAll(ctx)
}

// GetOrders returns orders newest first.
func (s *Service) GetOrders(ctx context.Context) ([]model.Order, error) {
	return s.store.ListOrders(ctx)
}

// OrderDetail is an order with its sub-orders.
type OrderDetail struct {
	model.Order
	SubOrders []model.SubOrderReport `json:"subOrders"`
}

// GetOrder returns one order with its sub-orders sorted by shopfloor.
func (s *Service) GetOrder(ctx context.Context, id string) (OrderDetail, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return OrderDetail{}, err
	}
	subs, err := s.store.ListReports(ctx, store.ReportFilter{OrderID: id})
	if err != nil {
		return OrderDetail{}, fmt.Errorf("list sub-orders of %s: %w", id, err)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Shopfloor < subs[j].Shopfloor })
	return OrderDetail{Order: o, SubOrders: subs}, nil
}

// GetReports returns sub-order reports, most recently updated first.
func (s *Service) GetReports(ctx context.Context, f store.ReportFilter) ([]model.SubOrderReport, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, model.Invalid(model.ErrInvalidStatus, "unknown status %q", f.Status)
	}
	return s.store.ListReports(ctx, f)
}

// GetShopfloorOrders returns the sub-orders assigned to a shopfloor.
func (s *Service) GetShopfloorOrders(ctx context.Context, shopfloor string) ([]model.SubOrderReport, error) {
	if _, err := s.store.GetShopfloor(ctx, shopfloor); err != nil {
		return nil, err
	}
	return s.store.ListReports(ctx, store.ReportFilter{Shopfloor: shopfloor})
}

// GetHeartbeats returns the last heartbeat of every shopfloor with its
// derived liveness.
func (s *Service) GetHeartbeats(ctx context.Context) ([]liveness.Entry, error) {
	if s.tracker == nil {
		return nil, errors.New("liveness tracking is not configured")
	}
	return s.tracker.Snapshot(ctx, s.clock.Now())
}
