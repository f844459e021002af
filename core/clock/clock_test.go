package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(t0)
	assert.Equal(t, t0, c.Now())
	c.Advance(20 * time.Second)
	assert.Equal(t, t0.Add(20*time.Second), c.Now())
	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}

func TestRealClockUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real{}.Now().Location())
}
