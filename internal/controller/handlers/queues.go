package handlers

import (
	"net/http"

	"botmaster/internal/service"
	"botmaster/internal/store"
)

// CreateQueue handles POST /queues.
func (h *Handlers) CreateQueue(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.QueueInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Queues.Create(r.Context(), tc, req, user(r)))
}

// ListQueues handles GET /queues?status=&isActive=&search=&page=&pageSize=.
func (h *Handlers) ListQueues(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := store.QueueFilter{
		IsActive: q.optBool("isActive"),
		Search:   q.str("search"),
		Page:     q.page(),
	}
	if s := q.optStr("status"); s != nil {
		status := store.QueueStatus(*s)
		filter.Status = &status
	}
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.Queues.GetAll(r.Context(), tc, filter))
}

// GetQueue handles GET /queues/{key}.
func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "queue key")
	if !ok {
		return
	}
	respond(w, h.svc.Queues.GetByKey(r.Context(), tc, key))
}

// UpdateQueue handles PATCH /queues/{key}.
func (h *Handlers) UpdateQueue(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "queue key")
	if !ok {
		return
	}
	var req service.QueueInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Queues.Update(r.Context(), tc, key, req, user(r)))
}

// DeleteQueue handles DELETE /queues/{key}.
func (h *Handlers) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	key, ok := pathUUID(w, r, "key", "queue key")
	if !ok {
		return
	}
	respond(w, h.svc.Queues.Delete(r.Context(), tc, key))
}
