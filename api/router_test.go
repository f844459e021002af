package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/api"
	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/journal"
	"github.com/kilianp07/mes/core/ledger"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/production"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/internal/keylock"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	store   *store.MemoryStore
	tr      *dispatch.MemoryTransport
	tracker *liveness.Tracker
}

type memJournal struct {
	recs []journal.Record
	q    journal.Query
}

func (m *memJournal) Append(_ context.Context, rec journal.Record) error {
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memJournal) Query(_ context.Context, q journal.Query) ([]journal.Record, error) {
	m.q = q
	var res []journal.Record
	for _, r := range m.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *memJournal) Close() error { return nil }

func newFixture(t *testing.T, j journal.Store, opts api.Options) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NopLogger{}
	s := store.NewMemoryStore()
	clk := clock.NewManual(t0)
	led := ledger.New(s, keylock.New(), clk, log, nil)
	require.NoError(t, led.Seed(ctx, map[string]int{"F1": 5000, "F2": 6000, "F3": 7000}))
	tr := dispatch.NewMemoryTransport()
	tracker := liveness.New(s, 0, clk, log, nil)
	svc := production.New(production.Deps{
		Store:   s,
		Ledger:  led,
		Sender:  dispatch.NewSender(tr, dispatch.Config{}, clk, log, nil, nil),
		Tracker: tracker,
		Clock:   clk,
		Logger:  log,
	})
	return &fixture{handler: api.NewRouter(svc, j, opts, log), store: s, tr: tr, tracker: tracker}
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestCreateOrderAndQuery(t *testing.T) {
	f := newFixture(t, nil, api.Options{})

	rr := f.do(t, http.MethodPost, "/orders", `{"description":"bolts","quantity":1800,"material":"steel"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[api.CreateOrderResponse](t, rr)
	assert.Equal(t, "ok", created.Status)
	assert.Equal(t, map[string]int{"F1": 500, "F2": 600, "F3": 700}, created.Distribution)
	assert.Len(t, f.tr.Published(), 3)

	rr = f.do(t, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rr.Code)
	orders := decodeBody[[]model.Order](t, rr)
	require.Len(t, orders, 1)
	assert.Equal(t, created.OrderID, orders[0].ID)

	rr = f.do(t, http.MethodGet, "/orders/"+created.OrderID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decodeBody[production.OrderDetail](t, rr)
	assert.Equal(t, 1800, detail.Quantity)
	require.Len(t, detail.SubOrders, 3)
	assert.Equal(t, "F1", detail.SubOrders[0].Shopfloor)

	rr = f.do(t, http.MethodGet, "/capacities", "")
	require.Equal(t, http.StatusOK, rr.Code)
	sfs := decodeBody[[]model.Shopfloor](t, rr)
	require.Len(t, sfs, 3)
	assert.Equal(t, 500, sfs[0].CurrentLoad)

	rr = f.do(t, http.MethodGet, "/shopfloors/F2/orders", "")
	require.Equal(t, http.StatusOK, rr.Code)
	subs := decodeBody[[]model.SubOrderReport](t, rr)
	require.Len(t, subs, 1)
	assert.Equal(t, 600, subs[0].Assigned)

	rr = f.do(t, http.MethodGet, "/reports?status=InProgress&shopfloor=F3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.SubOrderReport](t, rr), 1)

	rr = f.do(t, http.MethodGet, "/analytics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decodeBody[production.Summary](t, rr)
	assert.Equal(t, 1, summary.TotalOrders)
	assert.Equal(t, 1, summary.InProgressOrders)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, nil, api.Options{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero quantity", `{"description":"x","quantity":0,"material":"steel"}`, "quantity must be greater than 0"},
		{"missing description", `{"quantity":5,"material":"steel"}`, "description is required"},
		{"missing material", `{"description":"x","quantity":5}`, "material is required"},
		{"bad json", `{"quantity":`, "invalid request body"},
		{"unknown field", `{"description":"x","quantity":5,"material":"m","priority":1}`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/orders", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decodeBody[api.ErrorResponse](t, rr).Error, tt.want)
		})
	}
	orders, err := f.store.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders, "rejected requests create nothing")
	assert.Empty(t, f.tr.Published())
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, nil, api.Options{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/orders/ORD-404", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/shopfloors/F9/orders", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/journal", "").Code)
}

func TestSetCapacity(t *testing.T) {
	f := newFixture(t, nil, api.Options{})

	rr := f.do(t, http.MethodPost, "/capacities", `{"shopfloor":"F4","capacity":800}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sf, err := f.store.GetShopfloor(context.Background(), "F4")
	require.NoError(t, err)
	assert.Equal(t, 800, sf.Capacity)

	for _, body := range []string{
		`{"shopfloor":"F1","capacity":-1}`,
		`{"shopfloor":"F1"}`,
		`{"shopfloor":"","capacity":10}`,
		`{"shopfloor":"F1","capacity":1.5}`,
	} {
		rr := f.do(t, http.MethodPost, "/capacities", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestReportsRejectUnknownStatus(t *testing.T) {
	f := newFixture(t, nil, api.Options{})
	rr := f.do(t, http.MethodGet, "/reports?status=Paused", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodGet, "/reports", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestHeartbeats(t *testing.T) {
	f := newFixture(t, nil, api.Options{})
	require.NoError(t, f.tracker.OnHeartbeat(context.Background(), "F1", t0.Add(-10*time.Second), "online"))
	require.NoError(t, f.tracker.OnHeartbeat(context.Background(), "F2", t0.Add(-40*time.Second), "online"))

	rr := f.do(t, http.MethodGet, "/heartbeats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decodeBody[[]liveness.Entry](t, rr)
	require.Len(t, entries, 2)
	assert.Equal(t, model.Online, entries[0].Liveness)
	assert.Equal(t, model.Offline, entries[1].Liveness)
}

func TestJournalEndpoint(t *testing.T) {
	j := &memJournal{recs: []journal.Record{
		{Time: t0, Kind: "order_created", OrderID: "ORD-1"},
		{Time: t0.Add(time.Minute), Kind: "order_created", OrderID: "ORD-2"},
	}}
	f := newFixture(t, j, api.Options{JournalToken: "secret"})

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/journal", "").Code)

	rr := f.do(t, http.MethodGet, "/journal?order_id=ORD-2&start=2024-05-01T08:00:30Z&limit=5", "", "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	recs := decodeBody[[]journal.Record](t, rr)
	require.Len(t, recs, 1)
	assert.Equal(t, "ORD-2", recs[0].OrderID)
	assert.Equal(t, 5, j.q.Limit)

	rr = f.do(t, http.MethodGet, "/journal?start=yesterday", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodGet, "/journal?limit=-1", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil, api.Options{CORSOrigins: []string{"http://localhost:3000"}})
	rr := f.do(t, http.MethodOptions, "/orders", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

type failingService struct{ api.Service }

func (failingService) GetOrders(context.Context) ([]model.Order, error) {
	return nil, errors.New("connection refused")
}

func (failingService) CreateOrder(context.Context, string, int, string) (model.Order, error) {
	return model.Order{}, model.ErrNoShopfloors
}

func TestStorageErrorsAreInternal(t *testing.T) {
	h := api.NewRouter(failingService{}, nil, api.Options{}, logger.NopLogger{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"description":"x","quantity":1,"material":"m"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
