// Package ops serves the worker's operational endpoints: liveness,
// readiness, Prometheus metrics and read-only campaign progress.
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/config"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/observability"
	"github.com/contactpilot/contactpilot/pkg/httputil"
)

// Checker is a dependency that can report its health
type Checker interface {
	Health(ctx context.Context) error
}

// CampaignReader loads a campaign
type CampaignReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
}

// StatusCounter counts a campaign's submissions per status
type StatusCounter interface {
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.SubmissionStatus]int, error)
}

// RouterConfig contains the router's dependencies. Nil checkers and readers
// are skipped.
type RouterConfig struct {
	Service     string
	Checks      map[string]Checker
	Campaigns   CampaignReader
	Submissions StatusCounter
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRouter creates the ops router
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(recoverer(cfg.Logger))
	r.Use(requestLogger(cfg.Logger))
	r.Use(cfg.Metrics.HTTPMiddleware)
	r.Use(chimw.Timeout(10 * time.Second))

	r.Get("/healthz", healthHandler(cfg.Service))
	r.Get("/readyz", readyHandler(cfg.Checks))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Campaigns != nil {
		r.Get("/campaigns/{id}", progressHandler(cfg.Campaigns, cfg.Submissions))
	}

	return r
}

func healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": service,
		})
	}
}

// readyHandler checks if all dependencies are ready
func readyHandler(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		allHealthy := true

		for name, c := range checks {
			if c == nil {
				results[name] = "not configured"
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.Health(ctx)
			cancel()
			if err != nil {
				results[name] = "unhealthy: " + err.Error()
				allHealthy = false
				continue
			}
			results[name] = "healthy"
		}

		status := http.StatusOK
		statusText := "ready"
		if !allHealthy {
			status = http.StatusServiceUnavailable
			statusText = "not ready"
		}

		httputil.JSON(w, status, map[string]any{
			"status": statusText,
			"checks": results,
		})
	}
}

// Progress is the body of GET /campaigns/{id}
type Progress struct {
	ID         uuid.UUID                       `json:"id"`
	Status     domain.CampaignStatus           `json:"status"`
	Processed  int                             `json:"processed"`
	Successful int                             `json:"successful"`
	Failed     int                             `json:"failed"`
	Error      *string                         `json:"error,omitempty"`
	ByStatus   map[domain.SubmissionStatus]int `json:"by_status,omitempty"`
}

func progressHandler(campaigns CampaignReader, submissions StatusCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.ErrorFromDomain(w, domain.ValidationError("id", "invalid campaign id"))
			return
		}

		c, err := campaigns.Get(r.Context(), id)
		if err != nil {
			httputil.ErrorFromDomain(w, err)
			return
		}

		p := Progress{
			ID:         c.ID,
			Status:     c.Status,
			Processed:  c.Processed,
			Successful: c.Successful,
			Failed:     c.Failed,
			Error:      c.ErrorMessage,
		}
		if submissions != nil {
			if p.ByStatus, err = submissions.CountByStatus(r.Context(), id); err != nil {
				httputil.ErrorFromDomain(w, err)
				return
			}
		}

		httputil.JSON(w, http.StatusOK, p)
	}
}

// Server runs the ops router until its context ends
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer creates an ops server for handler
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
