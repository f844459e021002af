package dispatch

import (
	"context"
	"sync"
)

// Message is a published payload as seen by MemoryTransport.
type Message struct {
	Topic   string
	Payload []byte
}

type subscription struct {
	filter  string
	handler Handler
}

// MemoryTransport delivers messages synchronously inside the process. It is
// used by tests and by the single-process simulator.
type MemoryTransport struct {
	mu        sync.RWMutex
	subs      []subscription
	published []Message
	fail      map[string]error
	closed    bool
}

// NewMemoryTransport returns an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{fail: map[string]error{}}
}

// Publish records the message and calls every matching handler.
func (m *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if err := m.fail[topic]; err != nil {
		m.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), payload...)
	m.published = append(m.published, Message{Topic: topic, Payload: cp})
	var targets []Handler
	for _, s := range m.subs {
		if TopicMatches(s.filter, topic) {
			targets = append(targets, s.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range targets {
		h(topic, cp)
	}
	return nil
}

// Subscribe registers h for every topic matching filter.
func (m *MemoryTransport) Subscribe(filter string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.subs = append(m.subs, subscription{filter: filter, handler: h})
	return nil
}

// FailTopic makes every publish to topic return err. A nil err clears it.
func (m *MemoryTransport) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, topic)
		return
	}
	m.fail[topic] = err
}

// Published returns a copy of every message published so far.
func (m *MemoryTransport) Published() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.published...)
}

// PublishedTo returns the messages published on topic.
func (m *MemoryTransport) PublishedTo(topic string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Close drops all subscriptions.
func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.subs = nil
	m.mu.Unlock()
	return nil
}
