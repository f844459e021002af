package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/infra/logger"
)

// NewSink builds the sink described by cfg: Prometheus and/or InfluxDB,
// fanned out through a MultiSink. With nothing enabled it returns a NopSink.
func NewSink(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	var sinks []coremetrics.MetricsSink
	if cfg.PrometheusEnabled {
		ps, err := NewPromSinkWithRegistry(reg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ps)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

// Server exposes /metrics for Prometheus scraping.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer creates a metrics server on addr serving the given gatherer.
func NewServer(addr string, g prometheus.Gatherer) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: logger.New("metrics-server"),
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("metrics listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
