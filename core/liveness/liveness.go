// Package liveness derives online/offline status of shopfloors from the
// recency of their heartbeats.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// DefaultThreshold is the maximum heartbeat age for a shopfloor to be online.
const DefaultThreshold = 30 * time.Second

// Config holds the tracker settings.
type Config struct {
	ThresholdSeconds int `json:"threshold_seconds"`
	// Backend is "store" (same store as orders) or "redis".
	Backend   string `json:"backend"`
	RedisAddr string `json:"redis_addr"`
	RedisDB   int    `json:"redis_db"`
	RedisKey  string `json:"redis_key"`
}

// SetDefaults applies the default threshold and backend.
func (c *Config) SetDefaults() {
	if c.ThresholdSeconds <= 0 {
		c.ThresholdSeconds = int(DefaultThreshold / time.Second)
	}
	if c.Backend == "" {
		c.Backend = "store"
	}
	if c.RedisKey == "" {
		c.RedisKey = "mes:heartbeats"
	}
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Backend {
	case "store":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("liveness: redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("liveness: unknown backend %q", c.Backend)
	}
	return nil
}

// Threshold returns the configured threshold as a duration.
func (c Config) Threshold() time.Duration {
	return time.Duration(c.ThresholdSeconds) * time.Second
}

// Entry is a heartbeat with its derived status.
type Entry struct {
	model.Heartbeat
	Liveness model.Liveness `json:"liveness"`
	Age      time.Duration  `json:"-"`
}

// Tracker owns the heartbeat state of the fleet.
type Tracker struct {
	store     store.HeartbeatStore
	threshold time.Duration
	clock     clock.Clock
	log       logger.Logger
	metrics   metrics.MetricsSink
}

// New creates a Tracker. A non-positive threshold uses DefaultThreshold.
func New(s store.HeartbeatStore, threshold time.Duration, clk clock.Clock, log logger.Logger, sink metrics.MetricsSink) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{store: s, threshold: threshold, clock: clk, log: log, metrics: metrics.OrNop(sink)}
}

// Threshold returns the staleness limit in use.
func (t *Tracker) Threshold() time.Duration { return t.threshold }

// OnHeartbeat records a heartbeat. A zero timestamp means "now"; a
// timestamp older than the stored one never moves LastSeen backwards.
func (t *Tracker) OnHeartbeat(ctx context.Context, shopfloor string, ts time.Time, status string) error {
	if shopfloor == "" {
		return model.Invalid(model.ErrMissingField, "heartbeat without shopfloor")
	}
	if ts.IsZero() {
		ts = t.clock.Now()
	}
	if status == "" {
		status = string(model.Online)
	}
	prev, err := t.store.GetHeartbeat(ctx, shopfloor)
	switch {
	case err == nil:
		if ts.Before(prev.LastSeen) {
			t.log.Debugw("stale heartbeat ignored", map[string]any{"shopfloor": shopfloor, "ts": ts, "last_seen": prev.LastSeen})
			return nil
		}
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("get heartbeat %s: %w", shopfloor, err)
	}
	hb := model.Heartbeat{Shopfloor: shopfloor, LastSeen: ts.UTC(), Status: status}
	if err := t.store.PutHeartbeat(ctx, hb); err != nil {
		return fmt.Errorf("put heartbeat %s: %w", shopfloor, err)
	}
	if err := t.metrics.RecordHeartbeat(metrics.HeartbeatEvent{Shopfloor: shopfloor, Time: hb.LastSeen}); err != nil {
		t.log.Errorf("heartbeat metrics error: %v", err)
	}
	return nil
}

// Status reports whether shopfloor is online at now. Shopfloors never heard
// from are offline.
func (t *Tracker) Status(ctx context.Context, shopfloor string, now time.Time) (model.Liveness, error) {
	hb, err := t.store.GetHeartbeat(ctx, shopfloor)
	if errors.Is(err, model.ErrNotFound) {
		return model.Offline, nil
	}
	if err != nil {
		return model.Offline, fmt.Errorf("get heartbeat %s: %w", shopfloor, err)
	}
	return StatusAt(hb.LastSeen, now, t.threshold), nil
}

// Snapshot lists every known heartbeat with its status at now.
func (t *Tracker) Snapshot(ctx context.Context, now time.Time) ([]Entry, error) {
	hbs, err := t.store.ListHeartbeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	out := make([]Entry, 0, len(hbs))
	for _, hb := range hbs {
		out = append(out, Entry{
			Heartbeat: hb,
			Liveness:  StatusAt(hb.LastSeen, now, t.threshold),
			Age:       now.Sub(hb.LastSeen),
		})
	}
	return out, nil
}

// StatusAt is the pure online/offline rule: online iff now-lastSeen < threshold.
func StatusAt(lastSeen, now time.Time, threshold time.Duration) model.Liveness {
	if lastSeen.IsZero() {
		return model.Offline
	}
	if now.Sub(lastSeen) < threshold {
		return model.Online
	}
	return model.Offline
}
