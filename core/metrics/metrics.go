// Package metrics defines the observability events emitted by the order
// pipeline and the sink interface that exporters implement.
package metrics

import "time"

// OrderEvent is recorded when an order is created or completed.
type OrderEvent struct {
	OrderID      string
	Material     string
	Quantity     int
	Distribution map[string]int
	Completed    bool
	LeadTime     time.Duration
	Time         time.Time
}

// InstructionEvent is recorded for each instruction publish attempt.
type InstructionEvent struct {
	OrderID   string
	Shopfloor string
	Assigned  int
	Published bool
	Time      time.Time
}

// ReportEvent is recorded after a report was applied to a sub-order.
type ReportEvent struct {
	OrderID   string
	Shopfloor string
	Produced  int
	Defective int
	Completed bool
	Time      time.Time
}

// LoadEvent carries the recomputed load of a shopfloor.
type LoadEvent struct {
	Shopfloor string
	Capacity  int
	Load      int
	Time      time.Time
}

// DropEvent is recorded when an inbound message is discarded.
type DropEvent struct {
	Topic  string
	Reason string
	Time   time.Time
}

// HeartbeatEvent is recorded when a heartbeat is stored.
type HeartbeatEvent struct {
	Shopfloor string
	Time      time.Time
}

// MetricsSink records pipeline events for observability purposes.
type MetricsSink interface {
	RecordOrder(ev OrderEvent) error
	RecordInstruction(ev InstructionEvent) error
	RecordReport(ev ReportEvent) error
	RecordLoad(ev LoadEvent) error
	RecordDropped(ev DropEvent) error
	RecordHeartbeat(ev HeartbeatEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordOrder(OrderEvent) error             { return nil }
func (NopSink) RecordInstruction(InstructionEvent) error { return nil }
func (NopSink) RecordReport(ReportEvent) error           { return nil }
func (NopSink) RecordLoad(LoadEvent) error               { return nil }
func (NopSink) RecordDropped(DropEvent) error            { return nil }
func (NopSink) RecordHeartbeat(HeartbeatEvent) error     { return nil }

// OrNop returns s, or a NopSink when s is nil.
func OrNop(s MetricsSink) MetricsSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
