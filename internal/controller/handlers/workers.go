package handlers

import (
	"net/http"

	"botmaster/internal/service"
	"botmaster/internal/store"
)

// CreateWorker handles POST /workers.
func (h *Handlers) CreateWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.WorkerInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Workers.Create(r.Context(), tc, req, user(r)))
}

// ListWorkers handles GET /workers?scope=&search=&page=&pageSize=.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := store.WorkerFilter{Search: q.str("search"), Page: q.page()}
	if s := q.optStr("scope"); s != nil {
		scope := store.WorkerScope(*s)
		filter.Scope = &scope
	}
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.Workers.GetAll(r.Context(), tc, filter))
}

// GetWorker handles GET /workers/{key}.
func (h *Handlers) GetWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "worker key")
	if !ok {
		return
	}
	respond(w, h.svc.Workers.GetByKey(r.Context(), tc, key))
}

// UpdateWorker handles PATCH /workers/{key}.
func (h *Handlers) UpdateWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "worker key")
	if !ok {
		return
	}
	var req service.WorkerInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Workers.Update(r.Context(), tc, key, req, user(r)))
}

// DeleteWorker handles DELETE /workers/{key}.
func (h *Handlers) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "worker key")
	if !ok {
		return
	}
	respond(w, h.svc.Workers.Delete(r.Context(), tc, key))
}

// InstallWorker handles POST /installations.
func (h *Handlers) InstallWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.InstallationInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Installations.Install(r.Context(), tc, req, user(r)))
}

// ListInstallations handles GET /installations?page=&pageSize=.
func (h *Handlers) ListInstallations(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	page := q.page()
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.Installations.GetAll(r.Context(), tc, page))
}

// UpdateInstallation handles PATCH /installations/{id}.
func (h *Handlers) UpdateInstallation(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "installation id")
	if !ok {
		return
	}
	var req service.InstallationInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Installations.Update(r.Context(), tc, id, req, user(r)))
}

// UninstallWorker handles DELETE /installations/{id}.
func (h *Handlers) UninstallWorker(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "installation id")
	if !ok {
		return
	}
	respond(w, h.svc.Installations.Uninstall(r.Context(), tc, id))
}
