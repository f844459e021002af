// Package dispatch carries instructions to shopfloors and feeds their
// reports and heartbeats back into the service. Delivery is at most once and
// unordered across shopfloors.
package dispatch

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("transport closed")

// Handler receives a raw inbound message. Handlers are called from transport
// goroutines and must not block for long.
type Handler func(topic string, payload []byte)

// Transport is the publish/subscribe channel between the service and the
// shopfloors. infra/mqtt and infra/kafka implement it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	Close() error
}

// TopicMatches reports whether topic matches an MQTT style filter where
// "+" matches one level and a trailing "#" matches the rest.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
