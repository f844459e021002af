// Package plugins maps backend names from the configuration to the
// constructors of transports and stores.
package plugins

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/store"
)

// TransportFactory builds the dispatch transport selected by
// transport.backend.
type TransportFactory func(cfg *config.Config) (dispatch.Transport, error)

// StoreFactory opens the persistence backend selected by store.driver.
type StoreFactory func(ctx context.Context, cfg store.Config) (store.Store, error)

// HeartbeatFactory builds the heartbeat store selected by liveness.backend.
// main is the already opened store, used by backends that share it.
type HeartbeatFactory func(ctx context.Context, cfg liveness.Config, main store.Store) (store.HeartbeatStore, error)

var (
	Transports      = map[string]TransportFactory{}
	Stores          = map[string]StoreFactory{}
	HeartbeatStores = map[string]HeartbeatFactory{}
)

func RegisterTransport(name string, f TransportFactory)      { Transports[name] = f }
func RegisterStore(name string, f StoreFactory)              { Stores[name] = f }
func RegisterHeartbeatStore(name string, f HeartbeatFactory) { HeartbeatStores[name] = f }

// Transport builds the configured transport.
func Transport(cfg *config.Config) (dispatch.Transport, error) {
	f, ok := Transports[cfg.Transport.Backend]
	if !ok {
		return nil, unknown("transport", cfg.Transport.Backend, Transports)
	}
	return f(cfg)
}

// Store opens the configured store.
func Store(ctx context.Context, cfg store.Config) (store.Store, error) {
	f, ok := Stores[cfg.Driver]
	if !ok {
		return nil, unknown("store", cfg.Driver, Stores)
	}
	return f(ctx, cfg)
}

// HeartbeatStore builds the configured heartbeat store.
func HeartbeatStore(ctx context.Context, cfg liveness.Config, main store.Store) (store.HeartbeatStore, error) {
	f, ok := HeartbeatStores[cfg.Backend]
	if !ok {
		return nil, unknown("heartbeat store", cfg.Backend, HeartbeatStores)
	}
	return f(ctx, cfg, main)
}

func unknown[F any](kind, name string, m map[string]F) error {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("unknown %s %q (available: %v)", kind, name, names)
}
