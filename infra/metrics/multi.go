package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/mes/core/metrics"
)

// MultiSink fans events out to several sinks. Every sink receives the event
// even if an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) each(fn func(coremetrics.MetricsSink) error) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordOrder(ev coremetrics.OrderEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordOrder(ev) })
}

func (m *MultiSink) RecordInstruction(ev coremetrics.InstructionEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordInstruction(ev) })
}

func (m *MultiSink) RecordReport(ev coremetrics.ReportEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordReport(ev) })
}

func (m *MultiSink) RecordLoad(ev coremetrics.LoadEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordLoad(ev) })
}

func (m *MultiSink) RecordDropped(ev coremetrics.DropEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordDropped(ev) })
}

func (m *MultiSink) RecordHeartbeat(ev coremetrics.HeartbeatEvent) error {
	return m.each(func(s coremetrics.MetricsSink) error { return s.RecordHeartbeat(ev) })
}
