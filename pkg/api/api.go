// Package api serves the operator HTTP surface: health, reading run
// summaries, triggering a poll and finishing a run.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Queries are the read-only lookups the API serves.
type Queries interface {
	GetByRunID(ctx context.Context, runID string) (*run.Summary, error)
	ListByState(ctx context.Context, state run.State) ([]run.Summary, error)
	Search(ctx context.Context, query string) ([]run.Summary, error)
	ListAll(ctx context.Context) ([]run.Summary, error)
}

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	poller     ingest.Poller
	queries    Queries
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	poller ingest.Poller,
	queries Queries,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		poller:  poller,
		queries: queries,
	}
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
