package simulator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/infra/logger"
)

func TestDefects(t *testing.T) {
	tests := []struct {
		produced int
		rate     float64
		want     int
	}{
		{500, 0.05, 25},
		{600, 0.099, 59},
		{7, 0.1, 0},
		{0, 0.1, 0},
		{100, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Defects(tt.produced, tt.rate))
	}
}

func TestRandomProductionDefectRange(t *testing.T) {
	cfg := Config{DefectMin: 0.05, DefectMax: 0.10}
	strat := NewRandomProduction(cfg, 42)
	ins := model.Instruction{OrderID: "ORD-1", Assigned: 1000}
	for i := 0; i < 50; i++ {
		rep, ok := strat.Produce(context.Background(), "F1", ins)
		require.True(t, ok)
		assert.Equal(t, model.StatusCompleted, rep.Status)
		assert.Equal(t, 1000, rep.Produced)
		assert.GreaterOrEqual(t, rep.Defective, 50)
		assert.LessOrEqual(t, rep.Defective, 100)
	}
}

func TestRandomProductionDrops(t *testing.T) {
	strat := NewRandomProduction(Config{DropRate: 1}, 1)
	_, ok := strat.Produce(context.Background(), "F1", model.Instruction{Assigned: 1})
	assert.False(t, ok)
}

func TestProductionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := AutoComplete{Delay: time.Hour}.Produce(ctx, "F1", model.Instruction{Assigned: 1})
	assert.False(t, ok)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
shopfloors: [Line-A, Line-B]
min_delay: 1s
max_delay: 2s
heartbeat_interval: 500ms
seed: 7
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Line-A", "Line-B"}, cfg.Shopfloors)
	assert.Equal(t, time.Second, cfg.MinDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 0.05, cfg.DefectMin)
	assert.Equal(t, int64(7), cfg.Seed)

	cfg, err = ParseConfig([]byte(`{"shopfloors": ["F1"], "drop_rate": 0.5}`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.MinDelay)
	assert.Equal(t, 15*time.Second, cfg.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)

	for _, bad := range []string{
		`shopfloors: [F1, F1]`,
		`{min_delay: 2s, max_delay: 1s}`,
		`{defect_min: 0.2, defect_max: 0.1}`,
		`{drop_rate: 2}`,
		`shopfloors: {`,
	} {
		_, err := ParseConfig([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shopfloors: [F9]\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"F9"}, cfg.Shopfloors)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestShopfloorReportsInstructions(t *testing.T) {
	tr := dispatch.NewMemoryTransport()
	reports := make(chan model.Report, 4)
	heartbeats := make(chan model.HeartbeatMessage, 16)
	require.NoError(t, tr.Subscribe("shopfloor/report", func(_ string, b []byte) {
		var r model.Report
		if json.Unmarshal(b, &r) == nil {
			reports <- r
		}
	}))
	require.NoError(t, tr.Subscribe("shopfloor/heartbeat", func(_ string, b []byte) {
		var hb model.HeartbeatMessage
		if json.Unmarshal(b, &hb) == nil {
			select {
			case heartbeats <- hb:
			default:
			}
		}
	}))

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sf := &Shopfloor{
		ID:        "F1",
		Transport: tr,
		Strategy:  AutoComplete{},
		Interval:  time.Hour,
		Clock:     clock.NewManual(at),
		Log:       logger.NopLogger{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sf.Run(ctx) }()

	select {
	case hb := <-heartbeats:
		assert.Equal(t, "F1", hb.Shopfloor)
		assert.Equal(t, "online", hb.Status)
		assert.True(t, hb.Timestamp.Equal(at))
	case <-time.After(time.Second):
		t.Fatal("no heartbeat on start")
	}

	b, err := json.Marshal(model.Instruction{OrderID: "ORD-1", Assigned: 500, Status: model.StatusInProgress})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, "F1/instruction", b))
	require.NoError(t, tr.Publish(ctx, "F1/instruction", []byte("garbage")))

	select {
	case rep := <-reports:
		assert.Equal(t, model.Report{
			OrderID: "ORD-1", Shopfloor: "F1", Assigned: 500, Produced: 500, Status: model.StatusCompleted,
		}, rep)
	case <-time.After(time.Second):
		t.Fatal("no report")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shopfloor did not stop")
	}
}

func TestRunFleetRejectsInvalidConfig(t *testing.T) {
	err := RunFleet(context.Background(), dispatch.NewMemoryTransport(), dispatch.Config{},
		Config{Shopfloors: []string{"F1", "F1"}}, logger.NopLogger{})
	assert.Error(t, err)
}
