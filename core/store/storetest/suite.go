// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// Run exercises the full store contract against the implementation built by
// newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Capacity", func(t *testing.T) { testCapacity(t, newStore(t)) })
	t.Run("Orders", func(t *testing.T) { testOrders(t, newStore(t)) })
	t.Run("Reports", func(t *testing.T) { testReports(t, newStore(t)) })
	t.Run("Heartbeats", func(t *testing.T) { testHeartbeats(t, newStore(t)) })
}

func testCapacity(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.SeedShopfloor(ctx, "Shopfloor-2", 6000, t0)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.SeedShopfloor(ctx, "Shopfloor-2", 1, t0)
	require.NoError(t, err)
	assert.False(t, created, "seed must not overwrite")

	require.NoError(t, s.UpsertCapacity(ctx, "Shopfloor-1", 5000, t0))
	require.NoError(t, s.SetLoad(ctx, "Shopfloor-1", 300, t0))
	require.NoError(t, s.UpsertCapacity(ctx, "Shopfloor-1", 5500, t0.Add(time.Minute)))

	sf, err := s.GetShopfloor(ctx, "Shopfloor-1")
	require.NoError(t, err)
	assert.Equal(t, 5500, sf.Capacity)
	assert.Equal(t, 300, sf.CurrentLoad, "capacity update preserves load")

	all, err := s.ListShopfloors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Shopfloor-1", all[0].ID)
	assert.Equal(t, 6000, all[1].Capacity)

	_, err = s.GetShopfloor(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.SetLoad(ctx, "nope", 1, t0), model.ErrNotFound)
}

func testOrders(t *testing.T, s store.Store) {
	ctx := context.Background()
	o1 := model.Order{
		ID: "ORD-1", Description: "widget", Material: "steel", Quantity: 10,
		Status: model.StatusInProgress, CreatedAt: t0,
		Distribution: map[string]int{"F1": 4, "F2": 6, "F3": 0},
	}
	subs := []model.SubOrderReport{
		{OrderID: "ORD-1", Shopfloor: "F1", Assigned: 4, Status: model.StatusInProgress, UpdatedAt: t0},
		{OrderID: "ORD-1", Shopfloor: "F2", Assigned: 6, Status: model.StatusInProgress, UpdatedAt: t0},
	}
	require.NoError(t, s.CreateOrder(ctx, o1, subs))
	o2 := o1
	o2.ID = "ORD-2"
	o2.CreatedAt = t0.Add(time.Hour)
	o2.Distribution = map[string]int{"F1": 10}
	require.NoError(t, s.CreateOrder(ctx, o2, nil))
	assert.Error(t, s.CreateOrder(ctx, o1, nil), "duplicate id")

	got, err := s.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, o1.Distribution, got.Distribution)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, got.CreatedAt.Equal(t0))

	list, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ORD-2", list[0].ID, "newest first")

	done := t0.Add(2 * time.Hour)
	changed, err := s.CompleteOrder(ctx, "ORD-1", done)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.CompleteOrder(ctx, "ORD-1", done.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	got, err = s.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done), "completion time is not overwritten")

	_, err = s.GetOrder(ctx, "ORD-404")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.CompleteOrder(ctx, "ORD-404", done)
	assert.ErrorIs(t, err, model.ErrNotFound)

	r, err := s.GetReport(ctx, "ORD-1", "F2")
	require.NoError(t, err)
	assert.Equal(t, 6, r.Assigned)
}

func testReports(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutReport(ctx, model.SubOrderReport{
		OrderID: "ORD-1", Shopfloor: "F1", Assigned: 5, Status: model.StatusInProgress, UpdatedAt: t0,
	}))
	done := t0.Add(time.Minute)
	require.NoError(t, s.PutReport(ctx, model.SubOrderReport{
		OrderID: "ORD-1", Shopfloor: "F2", Assigned: 5, Produced: 5, Defective: 1,
		Status: model.StatusCompleted, CompletedAt: &done, UpdatedAt: done,
	}))
	require.NoError(t, s.PutReport(ctx, model.SubOrderReport{
		OrderID: "ORD-2", Shopfloor: "F1", Assigned: 3, Status: model.StatusInProgress, UpdatedAt: t0,
	}))
	// replace, not append
	require.NoError(t, s.PutReport(ctx, model.SubOrderReport{
		OrderID: "ORD-1", Shopfloor: "F1", Assigned: 5, Produced: 2, Status: model.StatusInProgress, UpdatedAt: t0.Add(2 * time.Minute),
	}))

	all, err := s.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "F1", all[0].Shopfloor)
	assert.Equal(t, 2, all[0].Produced)

	f1, err := s.ListReports(ctx, store.ReportFilter{Shopfloor: "F1", Status: model.StatusInProgress})
	require.NoError(t, err)
	assert.Len(t, f1, 2)

	byOrder, err := s.ListReports(ctx, store.ReportFilter{OrderID: "ORD-1", Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	require.NotNil(t, byOrder[0].CompletedAt)
	assert.True(t, byOrder[0].CompletedAt.Equal(done))
	assert.Equal(t, 1, byOrder[0].Defective)

	_, err = s.GetReport(ctx, "ORD-9", "F1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testHeartbeats(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetHeartbeat(ctx, "F1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, s.PutHeartbeat(ctx, model.Heartbeat{Shopfloor: "F2", LastSeen: t0, Status: "online"}))
	require.NoError(t, s.PutHeartbeat(ctx, model.Heartbeat{Shopfloor: "F1", LastSeen: t0, Status: "online"}))
	require.NoError(t, s.PutHeartbeat(ctx, model.Heartbeat{Shopfloor: "F1", LastSeen: t0.Add(10 * time.Second), Status: "online"}))
	hb, err := s.GetHeartbeat(ctx, "F1")
	require.NoError(t, err)
	assert.True(t, hb.LastSeen.Equal(t0.Add(10*time.Second)))
	list, err := s.ListHeartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "F1", list[0].Shopfloor)
}
