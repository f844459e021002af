package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/monitoring"
	"github.com/kilianp07/mes/core/reconcile"
)

// Drop reasons reported in metrics and MessageDropped events.
const (
	DropDecode       = "decode"
	DropMalformed    = "malformed"
	DropUnroutable   = "unroutable"
	DropUnknownTopic = "unknown_topic"
)

// ReportHandler applies production reports.
type ReportHandler interface {
	HandleReport(ctx context.Context, r model.Report) (reconcile.Outcome, error)
}

// HeartbeatHandler records heartbeats.
type HeartbeatHandler interface {
	OnHeartbeat(ctx context.Context, shopfloor string, ts time.Time, status string) error
}

// Consumer drains reports and heartbeats on a single goroutine. Transport
// callbacks only enqueue.
type Consumer struct {
	cfg        Config
	transport  Transport
	reports    ReportHandler
	heartbeats HeartbeatHandler
	clock      clock.Clock
	log        logger.Logger
	metrics    metrics.MetricsSink
	bus        events.Publisher

	in       chan Message
	done     chan struct{}
	stopOnce sync.Once
}

// NewConsumer wires the inbound side of the dispatch channel.
func NewConsumer(cfg Config, t Transport, reports ReportHandler, heartbeats HeartbeatHandler, clk clock.Clock, log logger.Logger, sink metrics.MetricsSink, bus events.Publisher) *Consumer {
	cfg.SetDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	return &Consumer{
		cfg:        cfg,
		transport:  t,
		reports:    reports,
		heartbeats: heartbeats,
		clock:      clk,
		log:        log,
		metrics:    metrics.OrNop(sink),
		bus:        events.OrDiscard(bus),
		in:         make(chan Message, cfg.InboundBuffer),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the report and heartbeat topics.
func (c *Consumer) Start() error {
	for _, topic := range []string{c.cfg.ReportTopic, c.cfg.HeartbeatTopic} {
		if err := c.transport.Subscribe(topic, c.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.log.Infof("subscribed to %s", topic)
	}
	return nil
}

func (c *Consumer) enqueue(topic string, payload []byte) {
	select {
	case c.in <- Message{Topic: topic, Payload: payload}:
	case <-c.done:
	}
}

// Run processes queued messages until ctx is cancelled. Messages still
// queued at that point are discarded.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.in:
			c.Handle(ctx, msg)
		}
	}
}

// Pending returns the number of queued messages.
func (c *Consumer) Pending() int { return len(c.in) }

// Handle processes one message synchronously.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	switch {
	case TopicMatches(c.cfg.ReportTopic, msg.Topic):
		c.handleReport(ctx, msg)
	case TopicMatches(c.cfg.HeartbeatTopic, msg.Topic):
		c.handleHeartbeat(ctx, msg)
	default:
		c.drop(msg.Topic, DropUnknownTopic, nil)
	}
}

func (c *Consumer) handleReport(ctx context.Context, msg Message) {
	var rep model.Report
	if err := json.Unmarshal(msg.Payload, &rep); err != nil {
		c.drop(msg.Topic, DropDecode, err)
		return
	}
	_, err := c.reports.HandleReport(ctx, rep)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrMalformedReport):
		c.drop(msg.Topic, DropMalformed, err)
	case errors.Is(err, model.ErrUnroutable):
		c.drop(msg.Topic, DropUnroutable, err)
	default:
		c.log.Errorf("report %s/%s failed: %v", rep.OrderID, rep.Shopfloor, err)
		monitoring.Capture("reconcile", err, "order_id", rep.OrderID, "shopfloor", rep.Shopfloor)
	}
}

type heartbeatWire struct {
	Shopfloor string `json:"shopfloor"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

func (c *Consumer) handleHeartbeat(ctx context.Context, msg Message) {
	var hb heartbeatWire
	if err := json.Unmarshal(msg.Payload, &hb); err != nil {
		c.drop(msg.Topic, DropDecode, err)
		return
	}
	if hb.Shopfloor == "" {
		c.drop(msg.Topic, DropMalformed, errors.New("heartbeat without shopfloor"))
		return
	}
	var ts time.Time
	if hb.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, hb.Timestamp)
		if err != nil {
			c.drop(msg.Topic, DropMalformed, fmt.Errorf("heartbeat timestamp: %w", err))
			return
		}
		ts = parsed
	}
	if err := c.heartbeats.OnHeartbeat(ctx, hb.Shopfloor, ts, hb.Status); err != nil {
		c.log.Errorf("heartbeat %s failed: %v", hb.Shopfloor, err)
		monitoring.Capture("liveness", err, "shopfloor", hb.Shopfloor)
	}
}

func (c *Consumer) drop(topic, reason string, err error) {
	fields := map[string]any{"topic": topic, "reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.log.Warnw("inbound message dropped", fields)
	now := c.clock.Now()
	if merr := c.metrics.RecordDropped(metrics.DropEvent{Topic: topic, Reason: reason, Time: now}); merr != nil {
		c.log.Errorf("drop metrics error: %v", merr)
	}
	c.bus.Publish(events.MessageDropped{Topic: topic, Reason: reason, Time: now})
}
