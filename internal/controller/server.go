// Package controller wires the botmaster HTTP API.
package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"botmaster/internal/controller/handlers"
	"botmaster/internal/controller/middleware"
	"botmaster/internal/observability"
)

// Options configures the API server.
type Options struct {
	Addr                string
	DefaultOrganization string
	RateLimit           float64
	RateLimitBurst      int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// HTTPMetrics records per-route request metrics when set.
	HTTPMetrics *observability.HTTPMetrics
}

// Server is the HTTP server for the botmaster API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server.
func New(opts Options, h *handlers.Handlers) *Server {
	api := http.NewServeMux()

	api.HandleFunc("POST /jobs", h.CreateJob)
	api.HandleFunc("GET /jobs", h.ListJobs)
	api.HandleFunc("GET /jobs/stats", h.JobStats)
	api.HandleFunc("GET /jobs/{key}", h.GetJob)
	api.HandleFunc("PATCH /jobs/{key}", h.UpdateJob)
	api.HandleFunc("DELETE /jobs/{key}", h.DeleteJob)
	api.HandleFunc("POST /jobs/{key}/start", h.StartJob)
	api.HandleFunc("POST /jobs/{key}/complete", h.CompleteJob)
	api.HandleFunc("POST /jobs/{key}/fail", h.FailJob)

	api.HandleFunc("POST /queues", h.CreateQueue)
	api.HandleFunc("GET /queues", h.ListQueues)
	api.HandleFunc("GET /queues/{key}", h.GetQueue)
	api.HandleFunc("PATCH /queues/{key}", h.UpdateQueue)
	api.HandleFunc("DELETE /queues/{key}", h.DeleteQueue)

	api.HandleFunc("POST /queue-items", h.CreateQueueItem)
	api.HandleFunc("GET /queue-items", h.ListQueueItems)
	api.HandleFunc("GET /queue-items/export", h.ExportQueueItems)
	api.HandleFunc("GET /queue-items/stats", h.QueueItemStats)
	api.HandleFunc("GET /queue-items/{id}", h.GetQueueItem)
	api.HandleFunc("PATCH /queue-items/{id}", h.UpdateQueueItem)
	api.HandleFunc("DELETE /queue-items/{id}", h.DeleteQueueItem)
	api.HandleFunc("POST /queue-items/{id}/retry", h.RetryQueueItem)
	api.HandleFunc("POST /queue-items/{id}/cancel", h.CancelQueueItem)

	api.HandleFunc("POST /triggers", h.CreateTrigger)
	api.HandleFunc("GET /triggers", h.ListTriggers)
	api.HandleFunc("GET /triggers/stats", h.TriggerStats)
	api.HandleFunc("GET /triggers/{id}", h.GetTrigger)
	api.HandleFunc("PATCH /triggers/{id}", h.UpdateTrigger)
	api.HandleFunc("DELETE /triggers/{id}", h.DeleteTrigger)
	api.HandleFunc("POST /triggers/{id}/execute", h.ExecuteTrigger)
	api.HandleFunc("POST /triggers/{id}/toggle", h.ToggleTrigger)
	api.HandleFunc("POST /triggers/{id}/webhook", h.DeliverWebhook)

	api.HandleFunc("POST /workers", h.CreateWorker)
	api.HandleFunc("GET /workers", h.ListWorkers)
	api.HandleFunc("GET /workers/{key}", h.GetWorker)
	api.HandleFunc("PATCH /workers/{key}", h.UpdateWorker)
	api.HandleFunc("DELETE /workers/{key}", h.DeleteWorker)

	api.HandleFunc("POST /installations", h.InstallWorker)
	api.HandleFunc("GET /installations", h.ListInstallations)
	api.HandleFunc("PATCH /installations/{id}", h.UpdateInstallation)
	api.HandleFunc("DELETE /installations/{id}", h.UninstallWorker)

	// Route metrics sit innermost so they see the pattern the api mux matched.
	var scoped http.Handler = api
	if opts.HTTPMetrics != nil {
		scoped = opts.HTTPMetrics.Middleware(scoped)
	}
	limiter := middleware.NewRateLimiter(middleware.WithLimit(opts.RateLimit, opts.RateLimitBurst))
	scoped = limiter.Middleware()(scoped)
	scoped = middleware.Tenant(opts.DefaultOrganization)(scoped)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /ready", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	mux.Handle("/", scoped)

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
