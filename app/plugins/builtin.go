package plugins

import (
	"context"
	"fmt"

	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/infra/kafka"
	"github.com/kilianp07/mes/infra/mqtt"
	"github.com/kilianp07/mes/infra/redisstore"
	"github.com/kilianp07/mes/infra/sqlstore"
)

func init() {
	RegisterTransport(config.TransportMQTT, func(cfg *config.Config) (dispatch.Transport, error) {
		c, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		return c, nil
	})
	RegisterTransport(config.TransportKafka, func(cfg *config.Config) (dispatch.Transport, error) {
		t, err := kafka.New(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka transport: %w", err)
		}
		return t, nil
	})
	RegisterTransport(config.TransportMemory, func(*config.Config) (dispatch.Transport, error) {
		return dispatch.NewMemoryTransport(), nil
	})

	RegisterStore(store.DriverMemory, func(context.Context, store.Config) (store.Store, error) {
		return store.NewMemoryStore(), nil
	})
	for _, driver := range []string{store.DriverSQLite, store.DriverPostgres, store.DriverMySQL} {
		RegisterStore(driver, func(ctx context.Context, cfg store.Config) (store.Store, error) {
			s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("%s store: %w", cfg.Driver, err)
			}
			return s, nil
		})
	}

	RegisterHeartbeatStore("store", func(_ context.Context, _ liveness.Config, main store.Store) (store.HeartbeatStore, error) {
		return main, nil
	})
	RegisterHeartbeatStore("redis", func(ctx context.Context, cfg liveness.Config, _ store.Store) (store.HeartbeatStore, error) {
		s, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("redis heartbeats: %w", err)
		}
		return s, nil
	})
}
