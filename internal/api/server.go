package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/dataset"
	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/middleware"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

// DatasetReader reads the committed dataset.
type DatasetReader interface {
	Latest(ctx context.Context) (dataset.Version, error)
}

// Server wires the ops routes.
type Server struct {
	router  chi.Router
	dataset DatasetReader
	logger  *zap.Logger
}

// NewServer constructs a Server. A nil reader disables the dataset route and readiness check.
func NewServer(reader DatasetReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{dataset: reader, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/v1/dataset/latest", s.latest)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.dataset != nil {
		if _, err := s.dataset.Latest(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type versionDTO struct {
	Version int                     `json:"version"`
	People  []tracker.PersonSummary `json:"people"`
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	if s.dataset == nil {
		writeError(w, http.StatusNotFound, "dataset is not configured")
		return
	}
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		activeOnly = v
	}

	version, err := s.dataset.Latest(r.Context())
	if err != nil {
		s.logger.Error("read latest dataset", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dataset unavailable")
		return
	}
	people := make([]tracker.PersonSummary, 0, len(version.Summaries))
	for _, p := range version.Summaries {
		if activeOnly && !p.Active {
			continue
		}
		people = append(people, p)
	}
	writeJSON(w, http.StatusOK, versionDTO{Version: version.Number, People: people})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
