// Package app assembles the order distribution service from its
// configuration and runs its long-lived components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/mes/api"
	"github.com/kilianp07/mes/app/plugins"
	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/journal"
	"github.com/kilianp07/mes/core/ledger"
	"github.com/kilianp07/mes/core/liveness"
	coremetrics "github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/monitoring"
	"github.com/kilianp07/mes/core/production"
	"github.com/kilianp07/mes/core/reconcile"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/infra/metrics"
	inframon "github.com/kilianp07/mes/infra/monitoring"
	"github.com/kilianp07/mes/internal/eventbus"
	"github.com/kilianp07/mes/internal/keylock"
	"github.com/kilianp07/mes/simulator"
)

// Service owns every component of a running instance.
type Service struct {
	Production *production.Service
	Ledger     *ledger.Ledger
	Tracker    *liveness.Tracker

	cfg        *config.Config
	log        logger.Logger
	store      store.Store
	heartbeats store.HeartbeatStore
	transport  dispatch.Transport
	consumer   *dispatch.Consumer
	sink       coremetrics.MetricsSink
	registry   *prometheus.Registry
	bus        *eventbus.TypedBus[events.Event]
	journal    journal.Store
	router     *api.Server
	fleet      *simulator.Config
}

// New opens the store and transport named in cfg and wires the service.
// The ledger is seeded with the configured shopfloors.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg, log: logger.New("service")}

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context) error {
	cfg := s.cfg
	var err error
	if s.store, err = plugins.Store(ctx, cfg.Store); err != nil {
		return err
	}
	if s.heartbeats, err = plugins.HeartbeatStore(ctx, cfg.Liveness, s.store); err != nil {
		return err
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.sink, err = metrics.NewSink(cfg.Metrics, s.registry); err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}

	s.bus = eventbus.NewTyped[events.Event]()
	if cfg.Journal.Enabled {
		if s.journal, err = journal.Open(cfg.Journal); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if s.transport, err = plugins.Transport(cfg); err != nil {
		return err
	}

	clk := clock.Real{}
	locks := keylock.New()
	s.Ledger = ledger.New(s.store, locks, clk, logger.New("ledger"), s.sink)
	defaults := make(map[string]int, len(cfg.Shopfloors))
	for _, sf := range cfg.Shopfloors {
		defaults[sf.ID] = sf.Capacity
	}
	if err := s.Ledger.Seed(ctx, defaults); err != nil {
		return fmt.Errorf("seed shopfloors: %w", err)
	}

	s.Tracker = liveness.New(s.heartbeats, cfg.Liveness.Threshold(), clk, logger.New("liveness"), s.sink)
	rec := reconcile.New(s.store, s.Ledger, locks, clk, logger.New("reconciler"), s.sink, s.bus)
	s.consumer = dispatch.NewConsumer(cfg.Dispatch, s.transport, rec, s.Tracker, clk, logger.New("consumer"), s.sink, s.bus)
	s.Production = production.New(production.Deps{
		Store:   s.store,
		Ledger:  s.Ledger,
		Sender:  dispatch.NewSender(s.transport, cfg.Dispatch, clk, logger.New("sender"), s.sink, s.bus),
		Tracker: s.Tracker,
		Clock:   clk,
		Logger:  logger.New("production"),
		Metrics: s.sink,
		Bus:     s.bus,
	})

	router := api.NewRouter(s.Production, s.journal, api.Options{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		JournalToken: cfg.HTTP.JournalToken,
	}, logger.New("api"))
	s.router = api.NewServer(cfg.HTTP.Addr, router, time.Duration(cfg.HTTP.ShutdownSeconds)*time.Second, logger.New("api"))
	return nil
}

// EnableSimulator runs a simulated fleet on the service transport. It only
// makes sense with the memory transport.
func (s *Service) EnableSimulator(c simulator.Config) { s.fleet = &c }

// Run starts the consumer, the API and the optional exporters, and blocks
// until ctx is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.consumer.Start(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer monitoring.Recover()
		return s.consumer.Run(ctx)
	})
	g.Go(func() error { return s.router.Run(ctx) })
	if s.journal != nil {
		rec := journal.NewRecorder(s.journal, logger.New("journal")).WatchDrops(s.bus, s.sink)
		in := s.bus.Subscribe()
		g.Go(func() error {
			defer monitoring.Recover()
			return rec.Run(ctx, in)
		})
	}
	if s.cfg.Metrics.PrometheusEnabled {
		srv := metrics.NewServer(s.cfg.Metrics.PrometheusAddr, s.registry)
		g.Go(func() error { return srv.Run(ctx) })
	}
	if s.fleet != nil {
		g.Go(func() error {
			return simulator.RunFleet(ctx, s.transport, s.cfg.Dispatch, *s.fleet, logger.New("simulator"))
		})
	}
	s.log.Infof("service started with %s transport and %s store", s.cfg.Transport.Backend, s.cfg.Store.Driver)
	return g.Wait()
}

// Close releases the transport first so no message arrives while the
// stores shut down.
func (s *Service) Close() error {
	var errs []error
	if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if c, ok := s.heartbeats.(io.Closer); ok && s.heartbeats != store.HeartbeatStore(s.store) {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
