package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/ledger"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/reconcile"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/internal/eventbus"
	"github.com/kilianp07/mes/internal/keylock"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type env struct {
	svc      *Service
	store    *store.MemoryStore
	tr       *dispatch.MemoryTransport
	consumer *dispatch.Consumer
	clock    *clock.Manual
	bus      *eventbus.TypedBus[events.Event]
}

func newEnv(t *testing.T, fleet map[string]int) *env {
	t.Helper()
	ctx := context.Background()
	log := logger.NopLogger{}
	s := store.NewMemoryStore()
	clk := clock.NewManual(t0)
	locks := keylock.New()
	bus := eventbus.NewTypedBuffered[events.Event](1024)
	led := ledger.New(s, locks, clk, log, nil)
	require.NoError(t, led.Seed(ctx, fleet))
	tr := dispatch.NewMemoryTransport()
	cfg := dispatch.Config{}
	tracker := liveness.New(s, 0, clk, log, nil)
	rec := reconcile.New(s, led, locks, clk, log, nil, bus)
	svc := New(Deps{
		Store:   s,
		Ledger:  led,
		Sender:  dispatch.NewSender(tr, cfg, clk, log, nil, bus),
		Tracker: tracker,
		Clock:   clk,
		Logger:  log,
		Bus:     bus,
	})
	consumer := dispatch.NewConsumer(cfg, tr, rec, tracker, clk, log, nil, bus)
	return &env{svc: svc, store: s, tr: tr, consumer: consumer, clock: clk, bus: bus}
}

var defaultFleet = map[string]int{"F1": 5000, "F2": 6000, "F3": 7000}

func (e *env) report(t *testing.T, rep model.Report) {
	t.Helper()
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	e.consumer.Handle(context.Background(), dispatch.Message{Topic: "shopfloor/report", Payload: b})
}

func (e *env) loads(t *testing.T) map[string]int {
	t.Helper()
	all, err := e.svc.GetCapacities(context.Background())
	require.NoError(t, err)
	out := map[string]int{}
	for _, sf := range all {
		out[sf.ID] = sf.CurrentLoad
	}
	return out
}

func TestCreateOrderRejectsZeroQuantity(t *testing.T) {
	e := newEnv(t, defaultFleet)
	_, err := e.svc.CreateOrder(context.Background(), "widget", 0, "steel")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	assert.True(t, model.IsValidation(err))
	assert.Empty(t, e.tr.Published())

	orders, err := e.svc.GetOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderMissingFields(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	_, err := e.svc.CreateOrder(ctx, " ", 10, "steel")
	assert.ErrorIs(t, err, model.ErrMissingField)
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	_, err = e.svc.CreateOrder(ctx, "widget", 10, "")
	assert.ErrorIs(t, err, model.ErrMissingField)
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	_, err = e.svc.CreateOrder(ctx, "widget", -3, "steel")
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	assert.Empty(t, e.tr.Published())
}

func TestCreateOrderDistributesAndDispatches(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	o, err := e.svc.CreateOrder(ctx, "widget", 1800, "steel")
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("ORD-%d", t0.UnixMilli()), o.ID)
	assert.Equal(t, model.StatusInProgress, o.Status)
	assert.Equal(t, map[string]int{"F1": 500, "F2": 600, "F3": 700}, o.Distribution)
	assert.Equal(t, map[string]int{"F1": 500, "F2": 600, "F3": 700}, e.loads(t))

	detail, err := e.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, detail.SubOrders, 3)
	for _, sub := range detail.SubOrders {
		assert.Zero(t, sub.Produced)
		assert.Equal(t, model.StatusInProgress, sub.Status)
		assert.Equal(t, o.Distribution[sub.Shopfloor], sub.Assigned)
	}

	for sf, qty := range o.Distribution {
		msgs := e.tr.PublishedTo(sf + "/instruction")
		require.Len(t, msgs, 1, sf)
		var ins model.Instruction
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &ins))
		assert.Equal(t, qty, ins.Assigned)
		assert.Equal(t, o.ID, ins.OrderID)
		assert.Equal(t, model.StatusInProgress, ins.Status)
	}
}

func TestSecondOrderPlansAgainstUpdatedLoad(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	_, err := e.svc.CreateOrder(ctx, "widget", 1800, "steel")
	require.NoError(t, err)
	second, err := e.svc.CreateOrder(ctx, "bolt", 1620, "iron")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"F1": 450, "F2": 540, "F3": 630}, second.Distribution)
}

func TestOrderIDsStayUniqueWithinAMillisecond(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	a, err := e.svc.CreateOrder(ctx, "widget", 10, "steel")
	require.NoError(t, err)
	b, err := e.svc.CreateOrder(ctx, "widget", 10, "steel")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("ORD-%d", t0.UnixMilli()+1), b.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	e := newEnv(t, defaultFleet)
	e.tr.FailTopic("F1/instruction", errors.New("broker down"))
	o, err := e.svc.CreateOrder(context.Background(), "widget", 1800, "steel")
	require.NoError(t, err)
	assert.Empty(t, e.tr.PublishedTo("F1/instruction"))
	assert.Len(t, e.tr.PublishedTo("F2/instruction"), 1)

	got, err := e.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Equal(t, 500, e.loads(t)["F1"])
}

func TestCreateOrderWithoutShopfloors(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.svc.CreateOrder(context.Background(), "widget", 10, "steel")
	assert.ErrorIs(t, err, model.ErrNoShopfloors)
}

func TestReportsCompleteOrderEndToEnd(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	o, err := e.svc.CreateOrder(ctx, "widget", 1800, "steel")
	require.NoError(t, err)

	e.clock.Advance(90 * time.Second)
	e.report(t, model.Report{OrderID: o.ID, Shopfloor: "F1", Assigned: 500, Produced: 500, Defective: 10, Status: model.StatusCompleted})
	e.report(t, model.Report{OrderID: o.ID, Shopfloor: "F1", Assigned: 500, Produced: 500, Defective: 10, Status: model.StatusCompleted})
	e.report(t, model.Report{OrderID: o.ID, Shopfloor: "F2", Assigned: 600, Produced: 600, Defective: 30, Status: model.StatusCompleted})

	mid, err := e.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, mid.Status)

	e.report(t, model.Report{OrderID: o.ID, Shopfloor: "F3", Assigned: 700, Produced: 700, Defective: 20, Status: model.StatusCompleted})
	done, err := e.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, map[string]int{"F1": 0, "F2": 0, "F3": 0}, e.loads(t))

	sum, err := e.svc.GetAnalyticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalOrders)
	assert.Equal(t, 1, sum.CompletedOrders)
	assert.Equal(t, 1800, sum.TotalProduced)
	assert.Equal(t, 60, sum.TotalDefective)
	assert.InDelta(t, 60.0/1800.0, sum.DefectRate, 1e-9)
	assert.Equal(t, 1, sum.LeadTime.Count)
	assert.InDelta(t, 90, sum.LeadTime.Mean, 1e-9)
	require.Len(t, sum.Shopfloors, 3)
	assert.Equal(t, 500, sum.Shopfloors[0].Produced)
	assert.Equal(t, 10, sum.Shopfloors[0].Defective)
}

func TestAnalyticsLeadTimeSpread(t *testing.T) {
	e := newEnv(t, map[string]int{"F1": 1000})
	ctx := context.Background()
	a, err := e.svc.CreateOrder(ctx, "widget", 10, "steel")
	require.NoError(t, err)
	b, err := e.svc.CreateOrder(ctx, "widget", 20, "steel")
	require.NoError(t, err)
	_, err = e.svc.CreateOrder(ctx, "widget", 30, "steel")
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	e.report(t, model.Report{OrderID: a.ID, Shopfloor: "F1", Produced: 10, Defective: 1})
	e.clock.Advance(time.Minute)
	e.report(t, model.Report{OrderID: b.ID, Shopfloor: "F1", Produced: 20, Defective: 0})

	sum, err := e.svc.GetAnalyticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalOrders)
	assert.Equal(t, 2, sum.CompletedOrders)
	assert.Equal(t, 1, sum.InProgressOrders)
	assert.Equal(t, 2, sum.LeadTime.Count)
	assert.InDelta(t, 90, sum.LeadTime.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(1800), sum.LeadTime.StdDev, 1e-9)
	require.Len(t, sum.Shopfloors, 1)
	assert.Equal(t, 30, sum.Shopfloors[0].Load)
	assert.Equal(t, 1, sum.Shopfloors[0].OpenOrders)
	assert.Equal(t, model.Offline, sum.Shopfloors[0].Liveness)
}

func TestHeartbeatsThroughConsumer(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	e.consumer.Handle(ctx, dispatch.Message{Topic: "shopfloor/heartbeat", Payload: []byte(`{"shopfloor":"F1","timestamp":"2024-05-01T08:00:00Z","status":"online"}`)})

	e.clock.Advance(20 * time.Second)
	hbs, err := e.svc.GetHeartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, hbs, 1)
	assert.Equal(t, model.Online, hbs[0].Liveness)

	e.clock.Advance(20 * time.Second)
	hbs, err = e.svc.GetHeartbeats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Offline, hbs[0].Liveness)
}

func TestSetCapacityAndQueries(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	require.NoError(t, e.svc.SetCapacity(ctx, "F4", 2000))
	err := e.svc.SetCapacity(ctx, "F1", -5)
	assert.ErrorIs(t, err, model.ErrInvalidCapacity)

	all, err := e.svc.GetCapacities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 5000, all[0].Capacity)

	_, err = e.svc.GetShopfloorOrders(ctx, "F9")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = e.svc.GetReports(ctx, store.ReportFilter{Status: "Paused"})
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
	_, err = e.svc.GetOrder(ctx, "ORD-0")
	assert.ErrorIs(t, err, model.ErrNotFound)

	o, err := e.svc.CreateOrder(ctx, "widget", 100, "steel")
	require.NoError(t, err)
	subs, err := e.svc.GetShopfloorOrders(ctx, "F4")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, o.ID, subs[0].OrderID)
}

func TestConcurrentOrderCreation(t *testing.T) {
	e := newEnv(t, defaultFleet)
	ctx := context.Background()
	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := e.svc.CreateOrder(ctx, "widget", 100, "steel")
			if assert.NoError(t, err) {
				ids <- o.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], id)
		seen[id] = true
	}
	assert.Len(t, seen, 20)
	total := 0
	for _, l := range e.loads(t) {
		total += l
	}
	assert.Equal(t, 2000, total)
}
