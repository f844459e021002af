package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/events"
)

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[events.Event]()
	ch := bus.Subscribe()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	bus.Publish(events.OrderCompleted{OrderID: "ORD-1", Reason: "all_completed", Time: at})
	v := <-ch
	require.IsType(t, events.OrderCompleted{}, v)
	assert.Equal(t, "order_completed", v.Kind())
	assert.Equal(t, at, v.At())
	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestTypedBusSatisfiesPublisher(t *testing.T) {
	var p events.Publisher = NewTyped[events.Event]()
	p.Publish(events.MessageDropped{Topic: "x"})
}

func TestTypedBusCountsSlowSubscribers(t *testing.T) {
	bus := NewTypedBuffered[int](2)
	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	assert.Equal(t, uint64(3), bus.Dropped())
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
	bus.Publish(1)
	assert.NotPanics(t, func() { bus.Unsubscribe(ch1) })
}
