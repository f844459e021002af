package journal

import (
	"context"
	"fmt"

	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
)

// Config selects the journal backend.
type Config struct {
	Enabled bool `json:"enabled"`
	// Backend is "jsonl" or "sqlite".
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies default rotation settings.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "data/journal.jsonl"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 30
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("journal: unknown backend %q", c.Backend)
	}
	return nil
}

// Open creates the configured store.
func Open(c Config) (Store, error) {
	c.SetDefaults()
	if c.Backend == "sqlite" {
		return NewSQLiteStore(c.Path)
	}
	return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
}

// DropCounter reports how many events a bus discarded.
type DropCounter interface {
	Dropped() uint64
}

// Recorder appends events received from the bus to a Store.
type Recorder struct {
	store Store
	log   logger.Logger

	drops   DropCounter
	sink    metrics.MetricsSink
	dropped uint64
}

// NewRecorder creates a Recorder writing to s.
func NewRecorder(s Store, log logger.Logger) *Recorder {
	return &Recorder{store: s, log: log}
}

// WatchDrops makes the recorder report events the bus discarded because the
// journal fell behind.
func (r *Recorder) WatchDrops(c DropCounter, sink metrics.MetricsSink) *Recorder {
	r.drops = c
	r.sink = metrics.OrNop(sink)
	return r
}

// Run consumes events until the channel closes or ctx is done. Append
// failures are logged and do not stop the loop.
func (r *Recorder) Run(ctx context.Context, in <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			r.Record(ctx, ev)
			r.checkDrops(ev)
		}
	}
}

// Record appends one event.
func (r *Recorder) Record(ctx context.Context, ev events.Event) {
	rec, err := FromEvent(ev)
	if err != nil {
		r.log.Warnf("%v", err)
		return
	}
	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Errorf("journal append %s: %v", rec.Kind, err)
	}
}

func (r *Recorder) checkDrops(ev events.Event) {
	if r.drops == nil {
		return
	}
	n := r.drops.Dropped()
	if n <= r.dropped {
		return
	}
	missed := n - r.dropped
	r.dropped = n
	r.log.Warnf("journal fell behind: %d events dropped (%d total)", missed, n)
	if err := r.sink.RecordDropped(metrics.DropEvent{Topic: "journal", Reason: "bus_full", Time: ev.At()}); err != nil {
		r.log.Errorf("metrics record dropped: %v", err)
	}
}
