// Package handlers contains HTTP handlers for the botmaster API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"botmaster/internal/controller/middleware"
	"botmaster/internal/logger"
	"botmaster/internal/service"
	"botmaster/internal/tenant"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the operations the API exposes.
type Services struct {
	Jobs          *service.JobService
	Queues        *service.QueueService
	QueueItems    *service.QueueItemService
	Triggers      *service.TriggerService
	Workers       *service.WorkerService
	Installations *service.WorkerInstallationService
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc Services
	db  Pinger
	log *slog.Logger
}

func New(svc Services, db Pinger, log *slog.Logger) *Handlers {
	return &Handlers{svc: svc, db: db, log: log}
}

// A helper function to write standard JSON responses.
func respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respond writes the envelope with its status code as the HTTP status.
func respond[T any](w http.ResponseWriter, resp service.Response[T]) {
	respondJson(w, resp.StatusCode, resp)
}

// httpError writes a failed envelope for problems caught before a service runs.
func httpError(w http.ResponseWriter, message string, code int) {
	respondJson(w, code, service.Response[any]{Success: false, Message: message, StatusCode: code})
}

// scope returns the request's tenant context or writes a 400.
func (h *Handlers) scope(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		httpError(w, middleware.HeaderFolderKey+" header is required", http.StatusBadRequest)
	}
	return tc, ok
}

// decode reads a JSON body into v. An empty body is allowed when optional.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	logger.FromContext(r.Context(), h.log).DebugContext(r.Context(), "invalid request body", "path", r.URL.Path, "error", err)
	httpError(w, "Invalid request body", http.StatusBadRequest)
	return false
}

func user(r *http.Request) string {
	return middleware.UserFromContext(r.Context())
}
