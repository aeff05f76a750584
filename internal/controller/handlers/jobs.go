package handlers

import (
	"net/http"

	"botmaster/internal/service"
	"botmaster/internal/store"
)

// CreateJob handles POST /jobs.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.CreateJobInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Jobs.Create(r.Context(), tc, req, user(r)))
}

// ListJobs handles GET /jobs?status=&workerKey=&search=&page=&pageSize=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := store.JobFilter{
		WorkerKey: q.optStr("workerKey"),
		Search:    q.str("search"),
		Page:      q.page(),
	}
	if s := q.optStr("status"); s != nil {
		status := store.JobStatus(*s)
		filter.Status = &status
	}
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.Jobs.GetAll(r.Context(), tc, filter))
}

// GetJob handles GET /jobs/{key}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	respond(w, h.svc.Jobs.GetByKey(r.Context(), tc, key))
}

// UpdateJob handles PATCH /jobs/{key}.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	var req service.UpdateJobInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Jobs.Update(r.Context(), tc, key, req, user(r)))
}

// DeleteJob handles DELETE /jobs/{key}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	respond(w, h.svc.Jobs.Delete(r.Context(), tc, key))
}

// StartJob handles POST /jobs/{key}/start.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	respond(w, h.svc.Jobs.StartJob(r.Context(), tc, key, user(r)))
}

// CompleteJob handles POST /jobs/{key}/complete with an optional {"result": {...}}.
func (h *Handlers) CompleteJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	var req struct {
		Result map[string]any `json:"result"`
	}
	if !h.decode(w, r, &req, true) {
		return
	}
	respond(w, h.svc.Jobs.CompleteJob(r.Context(), tc, key, req.Result, user(r)))
}

// FailJob handles POST /jobs/{key}/fail with {"error": "..."}.
func (h *Handlers) FailJob(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "job key")
	if !ok {
		return
	}
	var req struct {
		Error string `json:"error"`
	}
	if !h.decode(w, r, &req, true) {
		return
	}
	respond(w, h.svc.Jobs.FailJob(r.Context(), tc, key, req.Error, user(r)))
}

// JobStats handles GET /jobs/stats.
func (h *Handlers) JobStats(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	respond(w, h.svc.Jobs.GetStats(r.Context(), tc))
}
