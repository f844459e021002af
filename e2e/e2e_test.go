// Package e2e runs the whole service against real brokers started with
// testcontainers.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/api"
	"github.com/kilianp07/mes/app"
	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/production"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/infra/mqtt"
	"github.com/kilianp07/mes/simulator"
	"github.com/kilianp07/mes/test/util"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func countPoints(ctx context.Context, influxURL, measurement string) (int, error) {
	c := influxdb2.NewClient(influxURL, util.InfluxToken)
	defer c.Close()
	res, err := c.QueryAPI(util.InfluxOrg).Query(ctx, fmt.Sprintf(
		`from(bucket:"%s") |> range(start:-10m) |> filter(fn: (r) => r._measurement == "%s")`,
		util.InfluxBucket, measurement))
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func TestOrderLifecycleOverMQTT(t *testing.T) {
	util.RequireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	broker, stopBroker, err := util.StartMosquitto(ctx)
	require.NoError(t, err)
	defer stopBroker()
	influxURL, stopInflux, err := util.StartInflux(ctx)
	require.NoError(t, err)
	defer stopInflux()

	cfg := config.Default()
	cfg.MQTT.Broker = broker
	cfg.HTTP.Addr = freeAddr(t)
	cfg.Metrics.PrometheusEnabled = true
	cfg.Metrics.PrometheusAddr = freeAddr(t)
	cfg.Metrics.InfluxEnabled = true
	cfg.Metrics.InfluxURL = influxURL
	cfg.Metrics.InfluxToken = util.InfluxToken
	cfg.Metrics.InfluxOrg = util.InfluxOrg
	cfg.Metrics.InfluxBucket = util.InfluxBucket
	cfg.Shopfloors = []config.ShopfloorConfig{{ID: "Line-A", Capacity: 200}, {ID: "Line-B", Capacity: 300}}
	require.NoError(t, cfg.Validate())

	svc, err := app.New(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	served := make(chan error, 1)
	go func() { served <- svc.Run(runCtx) }()

	simCfg := cfg.MQTT
	simCfg.ClientID = "mes-e2e-simulator"
	simClient, err := mqtt.NewPahoClient(simCfg)
	require.NoError(t, err)
	defer simClient.Close()
	go func() {
		_ = simulator.RunFleet(runCtx, simClient, cfg.Dispatch, simulator.Config{
			Shopfloors:        []string{"Line-A", "Line-B"},
			MinDelay:          50 * time.Millisecond,
			MaxDelay:          200 * time.Millisecond,
			HeartbeatInterval: time.Second,
			Seed:              11,
		}, logger.New("simulator"))
	}()

	base := "http://" + cfg.HTTP.Addr
	require.Eventually(t, func() bool {
		var entries []liveness.Entry
		if getJSON(ctx, base+"/heartbeats", &entries) != nil || len(entries) != 2 {
			return false
		}
		for _, e := range entries {
			if e.Liveness != model.Online {
				return false
			}
		}
		return true
	}, 30*time.Second, 200*time.Millisecond, "simulated shopfloors never came online")

	body, err := json.Marshal(api.CreateOrderRequest{Description: "gears", Quantity: 250, Material: "brass"})
	require.NoError(t, err)
	resp, err := http.Post(base+"/orders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var created api.CreateOrderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, map[string]int{"Line-A": 100, "Line-B": 150}, created.Distribution)

	var detail production.OrderDetail
	require.Eventually(t, func() bool {
		return getJSON(ctx, base+"/orders/"+created.OrderID, &detail) == nil && detail.Status == model.StatusCompleted
	}, 30*time.Second, 200*time.Millisecond, "order never completed")
	require.Len(t, detail.SubOrders, 2)
	for _, sub := range detail.SubOrders {
		assert.Equal(t, sub.Assigned, sub.Produced)
		assert.LessOrEqual(t, sub.Defective, sub.Produced/10)
	}

	var summary production.Summary
	require.NoError(t, getJSON(ctx, base+"/analytics", &summary))
	assert.Equal(t, 1, summary.CompletedOrders)

	metricsCtx, cancelMetrics := context.WithTimeout(ctx, 10*time.Second)
	defer cancelMetrics()
	require.NoError(t, util.WaitForMetric(metricsCtx, "http://"+cfg.Metrics.PrometheusAddr+"/metrics", "mes_reports_applied_total"))

	require.Eventually(t, func() bool {
		n, err := countPoints(ctx, influxURL, "order_completed")
		return err == nil && n > 0
	}, 30*time.Second, 500*time.Millisecond, "no order_completed point in influx")

	stop()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}
