// Package kafka implements the dispatch transport on Apache Kafka using
// segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/monitoring"
	"github.com/kilianp07/mes/infra/logger"
)

// Config holds the broker list and consumer group.
type Config struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	// RetryBackoffMS is the pause after a failed read before the next one.
	RetryBackoffMS int `json:"retry_backoff_ms"`
}

// SetDefaults fills the consumer group and read backoff.
func (c *Config) SetDefaults() {
	if c.GroupID == "" {
		c.GroupID = "mes"
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = 500
	}
}

// Validate checks the broker list.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	return nil
}

// TopicName maps a slash separated topic onto a legal Kafka topic name:
// "/" becomes "." and any other character outside [a-zA-Z0-9._-] becomes
// "_".
func TopicName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, topic)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

var newWriter = func(cfg Config) messageWriter {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafkago.RequireOne,
	}
}

var newReader = func(cfg Config, topic string) messageReader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Transport publishes with a single writer and runs one reader goroutine per
// subscribed topic. Handlers receive the original slash separated topic.
type Transport struct {
	cfg     Config
	writer  messageWriter
	logger  logger.Logger
	backoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	readers map[string]messageReader
	closed  bool
}

var _ dispatch.Transport = (*Transport)(nil)

// New creates the transport. No connection is made until the first publish
// or subscription.
func New(cfg Config) (*Transport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		writer:  newWriter(cfg),
		logger:  logger.New("kafka_transport"),
		backoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		ctx:     ctx,
		cancel:  cancel,
		readers: make(map[string]messageReader),
	}, nil
}

// Publish writes payload keyed by the original topic so messages for the
// same shopfloor stay on one partition.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return dispatch.ErrClosed
	}
	err := t.writer.WriteMessages(ctx, kafkago.Message{
		Topic: TopicName(topic),
		Key:   []byte(topic),
		Value: payload,
	})
	if err != nil {
		monitoring.Capture("kafka", err, "topic", topic)
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a reader for topic. Wildcard filters are not supported
// by Kafka and are rejected.
func (t *Transport) Subscribe(topic string, h dispatch.Handler) error {
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("kafka: wildcard topic %q not supported", topic)
	}
	name := TopicName(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return dispatch.ErrClosed
	}
	if _, ok := t.readers[name]; ok {
		return fmt.Errorf("kafka: already subscribed to %s", topic)
	}
	r := newReader(t.cfg, name)
	t.readers[name] = r
	t.wg.Add(1)
	go t.consume(r, topic, h)
	t.logger.Infof("subscribed to %s as %s", topic, name)
	return nil
}

func (t *Transport) consume(r messageReader, topic string, h dispatch.Handler) {
	defer t.wg.Done()
	for {
		msg, err := r.ReadMessage(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Warnf("read %s: %v", topic, err)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(t.backoff):
			}
			continue
		}
		h(topic, msg.Value)
	}
}

// Close stops every reader and flushes the writer.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	readers := t.readers
	t.readers = map[string]messageReader{}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
