package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/mes/core/model"
)

type reportKey struct{ order, shopfloor string }

// MemoryStore keeps all state in process memory. It is the default backend
// and the one used by unit tests.
type MemoryStore struct {
	mu         sync.RWMutex
	shopfloors map[string]model.Shopfloor
	orders     map[string]model.Order
	reports    map[reportKey]model.SubOrderReport
	heartbeats map[string]model.Heartbeat
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shopfloors: map[string]model.Shopfloor{},
		orders:     map[string]model.Order{},
		reports:    map[reportKey]model.SubOrderReport{},
		heartbeats: map[string]model.Heartbeat{},
	}
}

func (s *MemoryStore) ListShopfloors(_ context.Context) ([]model.Shopfloor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Shopfloor, 0, len(s.shopfloors))
	for _, sf := range s.shopfloors {
		res = append(res, sf)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) GetShopfloor(_ context.Context, id string) (model.Shopfloor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.shopfloors[id]
	if !ok {
		return model.Shopfloor{}, fmt.Errorf("shopfloor %s: %w", id, model.ErrNotFound)
	}
	return sf, nil
}

func (s *MemoryStore) UpsertCapacity(_ context.Context, id string, capacity int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf := s.shopfloors[id]
	sf.ID = id
	sf.Capacity = capacity
	sf.UpdatedAt = at
	s.shopfloors[id] = sf
	return nil
}

func (s *MemoryStore) SeedShopfloor(_ context.Context, id string, capacity int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shopfloors[id]; ok {
		return false, nil
	}
	s.shopfloors[id] = model.Shopfloor{ID: id, Capacity: capacity, UpdatedAt: at}
	return true, nil
}

func (s *MemoryStore) SetLoad(_ context.Context, id string, load int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.shopfloors[id]
	if !ok {
		return fmt.Errorf("shopfloor %s: %w", id, model.ErrNotFound)
	}
	sf.CurrentLoad = load
	sf.UpdatedAt = at
	s.shopfloors[id] = sf
	return nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o model.Order, subs []model.SubOrderReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Distribution = copyDistribution(o.Distribution)
	s.orders[o.ID] = o
	for _, r := range subs {
		s.reports[reportKey{r.OrderID, r.Shopfloor}] = r
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	o.Distribution = copyDistribution(o.Distribution)
	return o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		o.Distribution = copyDistribution(o.Distribution)
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *MemoryStore) CompleteOrder(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if o.Completed() {
		return false, nil
	}
	o.Status = model.StatusCompleted
	o.CompletedAt = &at
	s.orders[id] = o
	return true, nil
}

func (s *MemoryStore) GetReport(_ context.Context, orderID, shopfloor string) (model.SubOrderReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportKey{orderID, shopfloor}]
	if !ok {
		return model.SubOrderReport{}, fmt.Errorf("report %s/%s: %w", orderID, shopfloor, model.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) PutReport(_ context.Context, r model.SubOrderReport) error {
	s.mu.Lock()
	s.reports[reportKey{r.OrderID, r.Shopfloor}] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, f ReportFilter) ([]model.SubOrderReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.SubOrderReport
	for _, r := range s.reports {
		if f.Match(r) {
			res = append(res, r)
		}
	}
	SortReports(res)
	return res, nil
}

func (s *MemoryStore) PutHeartbeat(_ context.Context, hb model.Heartbeat) error {
	s.mu.Lock()
	s.heartbeats[hb.Shopfloor] = hb
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetHeartbeat(_ context.Context, shopfloor string) (model.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hb, ok := s.heartbeats[shopfloor]
	if !ok {
		return model.Heartbeat{}, fmt.Errorf("heartbeat %s: %w", shopfloor, model.ErrNotFound)
	}
	return hb, nil
}

func (s *MemoryStore) ListHeartbeats(_ context.Context) ([]model.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Heartbeat, 0, len(s.heartbeats))
	for _, hb := range s.heartbeats {
		res = append(res, hb)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Shopfloor < res[j].Shopfloor })
	return res, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// SortReports orders reports most recently updated first, breaking ties by
// order then shopfloor so listings are stable.
func SortReports(res []model.SubOrderReport) {
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		if res[i].OrderID != res[j].OrderID {
			return res[i].OrderID > res[j].OrderID
		}
		return res[i].Shopfloor < res[j].Shopfloor
	})
}

func copyDistribution(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
