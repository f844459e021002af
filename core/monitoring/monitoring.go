// Package monitoring forwards unexpected failures to an error tracker. The
// default implementation drops everything; infra/monitoring installs Sentry.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic records a recovered panic value.
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the process-wide monitor. A nil monitor is ignored.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Capture records err tagged with the module that observed it plus any
// non-empty key/value pairs.
func Capture(module string, err error, kv ...string) {
	if err == nil {
		return
	}
	tags := map[string]string{"module": module}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			tags[kv[i]] = kv[i+1]
		}
	}
	CaptureException(err, tags)
}

// Recover reports a panic of the calling goroutine and re-panics. It only
// works when deferred directly: defer monitoring.Recover().
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) { get().Flush(d) }
