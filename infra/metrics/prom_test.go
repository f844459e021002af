package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/mes/core/metrics"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, s.RecordOrder(coremetrics.OrderEvent{OrderID: "ORD-1", Time: now}))
	require.NoError(t, s.RecordOrder(coremetrics.OrderEvent{OrderID: "ORD-1", Completed: true, LeadTime: time.Minute, Time: now}))
	require.NoError(t, s.RecordInstruction(coremetrics.InstructionEvent{Shopfloor: "F1", Published: true}))
	require.NoError(t, s.RecordInstruction(coremetrics.InstructionEvent{Shopfloor: "F1", Published: false}))
	require.NoError(t, s.RecordReport(coremetrics.ReportEvent{Shopfloor: "F2", Completed: true}))
	require.NoError(t, s.RecordLoad(coremetrics.LoadEvent{Shopfloor: "F1", Capacity: 1000, Load: 250}))
	require.NoError(t, s.RecordDropped(coremetrics.DropEvent{Reason: "decode"}))
	require.NoError(t, s.RecordHeartbeat(coremetrics.HeartbeatEvent{Shopfloor: "F1", Time: time.Unix(1700000000, 0)}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.orders.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.orders.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.instructions.WithLabelValues("F1", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.reports.WithLabelValues("F2", "true")))
	assert.Equal(t, 250.0, testutil.ToFloat64(s.load.WithLabelValues("F1")))
	assert.Equal(t, 0.25, testutil.ToFloat64(s.utilization.WithLabelValues("F1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.dropped.WithLabelValues("decode")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(s.lastSeen.WithLabelValues("F1")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.leadTime))
}

func TestPromSinkReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, a.RecordDropped(coremetrics.DropEvent{Reason: "malformed"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.dropped.WithLabelValues("malformed")))
}

func TestNewSinkSelection(t *testing.T) {
	s, err := NewSink(coremetrics.Config{}, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	s, err = NewSink(coremetrics.Config{PrometheusEnabled: true}, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.IsType(t, &PromSink{}, s)
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, s.RecordLoad(coremetrics.LoadEvent{Shopfloor: "F1", Capacity: 10, Load: 5}))

	srv := NewServer(":0", reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `mes_shopfloor_load_units{shopfloor="F1"} 5`))
}
