package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/mes/core/logger"
)

// Server serves the REST API until its context is cancelled.
type Server struct {
	srv      *http.Server
	log      logger.Logger
	shutdown time.Duration
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, shutdown time.Duration, log logger.Logger) *Server {
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	return &Server{
		srv:      &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		log:      log,
		shutdown: shutdown,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
