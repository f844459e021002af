// Package keylock serializes work per entity key. Different keys proceed in
// parallel; the same key is processed by one holder at a time.
package keylock

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Locker hands out one mutex per key. An entry lives only while someone holds
// or waits for it, so finished orders do not accumulate.
type Locker struct {
	locks cmap.ConcurrentMap[string, *entry]
}

// refs is only touched inside cmap callbacks, which run under the shard lock.
type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: cmap.New[*entry]()}
}

func (l *Locker) acquire(key string) *entry {
	return l.locks.Upsert(key, nil, func(exist bool, cur *entry, _ *entry) *entry {
		if !exist || cur == nil {
			cur = &entry{}
		}
		cur.refs++
		return cur
	})
}

func (l *Locker) release(key string, e *entry) {
	l.locks.RemoveCb(key, func(_ string, cur *entry, exists bool) bool {
		if !exists || cur != e {
			return false
		}
		cur.refs--
		return cur.refs == 0
	})
}

// Lock acquires the mutex for key and returns its release function.
func (l *Locker) Lock(key string) func() {
	e := l.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.release(key, e)
	}
}

// With runs fn while holding the mutex for key.
func (l *Locker) With(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int { return l.locks.Count() }

// OrderKey and ShopfloorKey namespace the two entity kinds sharing a Locker.
func OrderKey(id string) string     { return "order:" + id }
func ShopfloorKey(id string) string { return "shopfloor:" + id }
