// Package monitor serves the read-only introspection API: live session
// state as JSON plus the Prometheus metrics endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netrange/bfdd/internal/bfd"
	"github.com/netrange/bfdd/internal/version"
)

// Server timeouts. The API serves small JSON documents; anything slower
// than this is a stuck client.
const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// SnapshotFunc returns a point-in-time view of every session, taken on
// the event loop goroutine.
type SnapshotFunc func(ctx context.Context) ([]bfd.SessionSnapshot, error)

// Server is the monitoring HTTP server.
type Server struct {
	logger    *slog.Logger
	addr      string
	snapshots SnapshotFunc
	srv       *http.Server
}

// New creates a monitor server listening on addr. Metrics are served from
// gatherer under /metrics.
func New(addr string, snapshots SnapshotFunc, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		logger:    logger,
		addr:      addr,
		snapshots: snapshots,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{discriminator}", s.handleSession)
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor server listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.snapshots(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, map[string]any{"sessions": snaps})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	discr, err := strconv.ParseUint(chi.URLParam(r, "discriminator"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	snaps, err := s.snapshots(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	for _, snap := range snaps {
		if snap.LocalDiscriminator == uint32(discr) {
			s.writeJSON(w, snap)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, bfd.ErrSessionNotFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
