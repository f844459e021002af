package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	coremetrics "github.com/kilianp07/mes/core/metrics"
)

type countingSink struct {
	coremetrics.NopSink
	count int
	err   error
}

func (c *countingSink) RecordReport(coremetrics.ReportEvent) error {
	c.count++
	return c.err
}

func (c *countingSink) RecordLoad(coremetrics.LoadEvent) error {
	c.count++
	return c.err
}

func TestMultiSinkForwardsToAll(t *testing.T) {
	failing := &countingSink{err: errors.New("influx down")}
	ok := &countingSink{}
	m := NewMultiSink(failing, ok)

	err := m.RecordReport(coremetrics.ReportEvent{})
	assert.Error(t, err)
	assert.NoError(t, m.RecordHeartbeat(coremetrics.HeartbeatEvent{}))
	_ = m.RecordLoad(coremetrics.LoadEvent{})

	assert.Equal(t, 2, failing.count)
	assert.Equal(t, 2, ok.count, "later sinks still receive events")
}
