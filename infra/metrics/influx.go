package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/infra/logger"
)

// InfluxSink writes pipeline events to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings InfluxDB and returns a NopSink if the
// health check fails.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOrder writes order_created or order_completed points.
func (s *InfluxSink) RecordOrder(ev coremetrics.OrderEvent) error {
	if ev.Completed {
		return s.write(write.NewPointWithMeasurement("order_completed").
			AddTag("order_id", ev.OrderID).
			AddTag("material", ev.Material).
			AddField("quantity", ev.Quantity).
			AddField("lead_time_s", round3(ev.LeadTime.Seconds())).
			SetTime(ev.Time))
	}
	return s.write(write.NewPointWithMeasurement("order_created").
		AddTag("order_id", ev.OrderID).
		AddTag("material", ev.Material).
		AddField("quantity", ev.Quantity).
		AddField("shopfloors", countAllocated(ev.Distribution)).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordInstruction(ev coremetrics.InstructionEvent) error {
	return s.write(write.NewPointWithMeasurement("instruction_sent").
		AddTag("order_id", ev.OrderID).
		AddTag("shopfloor", ev.Shopfloor).
		AddTag("published", strconv.FormatBool(ev.Published)).
		AddField("assigned", ev.Assigned).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordReport(ev coremetrics.ReportEvent) error {
	return s.write(write.NewPointWithMeasurement("suborder_report").
		AddTag("order_id", ev.OrderID).
		AddTag("shopfloor", ev.Shopfloor).
		AddTag("completed", strconv.FormatBool(ev.Completed)).
		AddField("produced", ev.Produced).
		AddField("defective", ev.Defective).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordLoad(ev coremetrics.LoadEvent) error {
	util := 0.0
	if ev.Capacity > 0 {
		util = float64(ev.Load) / float64(ev.Capacity)
	}
	return s.write(write.NewPointWithMeasurement("shopfloor_load").
		AddTag("shopfloor", ev.Shopfloor).
		AddField("load", ev.Load).
		AddField("capacity", ev.Capacity).
		AddField("utilization", round3(util)).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordDropped(ev coremetrics.DropEvent) error {
	return s.write(write.NewPointWithMeasurement("message_dropped").
		AddTag("topic", ev.Topic).
		AddTag("reason", ev.Reason).
		AddField("count", 1).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordHeartbeat(ev coremetrics.HeartbeatEvent) error {
	return s.write(write.NewPointWithMeasurement("heartbeat").
		AddTag("shopfloor", ev.Shopfloor).
		AddField("online", true).
		SetTime(ev.Time))
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func countAllocated(dist map[string]int) int {
	n := 0
	for _, q := range dist {
		if q > 0 {
			n++
		}
	}
	return n
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
