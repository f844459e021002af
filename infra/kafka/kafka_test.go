package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/dispatch"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

type fakeReader struct {
	topic  string
	in     chan kafkago.Message
	errs   chan error
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	case err := <-r.errs:
		return kafkago.Message{}, err
	case m := <-r.in:
		return m, nil
	}
}

func (r *fakeReader) Close() error { r.closed = true; return nil }

type fakes struct {
	writer  *fakeWriter
	mu      sync.Mutex
	readers map[string]*fakeReader
}

func (f *fakes) reader(topic string) *fakeReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readers[topic]
}

func useFakes(t *testing.T) *fakes {
	t.Helper()
	f := &fakes{writer: &fakeWriter{}, readers: map[string]*fakeReader{}}
	origW, origR := newWriter, newReader
	newWriter = func(Config) messageWriter { return f.writer }
	newReader = func(_ Config, topic string) messageReader {
		r := &fakeReader{topic: topic, in: make(chan kafkago.Message, 4), errs: make(chan error, 1)}
		f.mu.Lock()
		f.readers[topic] = r
		f.mu.Unlock()
		return r
	}
	t.Cleanup(func() { newWriter, newReader = origW, origR })
	return f
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "shopfloor.report", TopicName("shopfloor/report"))
	assert.Equal(t, "Shopfloor-1.instruction", TopicName("Shopfloor-1/instruction"))
	assert.Equal(t, "Line_A.instruction", TopicName("Line A/instruction"))
}

func TestConfig(t *testing.T) {
	var c Config
	assert.Error(t, c.Validate())
	c.SetDefaults()
	assert.Equal(t, "mes", c.GroupID)
	assert.Equal(t, 500, c.RetryBackoffMS)
	c.Brokers = []string{"localhost:9092"}
	assert.NoError(t, c.Validate())

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPublishSanitizesTopic(t *testing.T) {
	f := useFakes(t)
	tr, err := New(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	require.NoError(t, tr.Publish(context.Background(), "Shopfloor-1/instruction", []byte(`{"orderID":"ORD-1"}`)))
	require.Len(t, f.writer.msgs, 1)
	assert.Equal(t, "Shopfloor-1.instruction", f.writer.msgs[0].Topic)
	assert.Equal(t, "Shopfloor-1/instruction", string(f.writer.msgs[0].Key))
	assert.JSONEq(t, `{"orderID":"ORD-1"}`, string(f.writer.msgs[0].Value))
}

func TestPublishError(t *testing.T) {
	f := useFakes(t)
	f.writer.err = errors.New("leader not available")
	tr, err := New(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()
	err = tr.Publish(context.Background(), "Shopfloor-1/instruction", nil)
	assert.ErrorContains(t, err, "leader not available")
}

func TestSubscribeDeliversOriginalTopic(t *testing.T) {
	f := useFakes(t)
	tr, err := New(Config{Brokers: []string{"localhost:9092"}, RetryBackoffMS: 1})
	require.NoError(t, err)

	got := make(chan string, 2)
	require.NoError(t, tr.Subscribe("shopfloor/report", func(topic string, payload []byte) {
		got <- topic + " " + string(payload)
	}))
	assert.Error(t, tr.Subscribe("shopfloor/report", func(string, []byte) {}), "duplicate subscription")

	r := f.reader("shopfloor.report")
	require.NotNil(t, r)
	r.errs <- errors.New("rebalance in progress")
	r.in <- kafkago.Message{Topic: "shopfloor.report", Value: []byte("x")}

	select {
	case m := <-got:
		assert.Equal(t, "shopfloor/report x", m)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, tr.Close())
	assert.True(t, r.closed)
	assert.True(t, f.writer.closed)
	assert.ErrorIs(t, tr.Publish(context.Background(), "a/b", nil), dispatch.ErrClosed)
	assert.ErrorIs(t, tr.Subscribe("a/b", func(string, []byte) {}), dispatch.ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestSubscribeRejectsWildcards(t *testing.T) {
	useFakes(t)
	tr, err := New(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()
	assert.Error(t, tr.Subscribe("+/instruction", func(string, []byte) {}))
	assert.Error(t, tr.Subscribe("shopfloor/#", func(string, []byte) {}))
}
