package handlers

import (
	"net/http"

	"botmaster/internal/service"
	"botmaster/internal/store"
)

// queueItemFilter reads the listing filter shared by list and export.
func queueItemFilter(q *query) store.QueueItemFilter {
	filter := store.QueueItemFilter{
		QueueID:  q.optInt64("queueId"),
		WorkerID: q.optStr("workerId"),
		JobID:    q.optStr("jobId"),
		From:     q.optTime("from"),
		To:       q.optTime("to"),
		Search:   q.str("search"),
		Page:     q.page(),
	}
	for _, s := range q.list("status") {
		filter.Statuses = append(filter.Statuses, store.QueueItemStatus(s))
	}
	return filter
}

// CreateQueueItem handles POST /queue-items.
func (h *Handlers) CreateQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.CreateQueueItemInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.QueueItems.Create(r.Context(), tc, req))
}

// ListQueueItems handles GET /queue-items.
func (h *Handlers) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := queueItemFilter(q)
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.QueueItems.GetAll(r.Context(), tc, filter))
}

// ExportQueueItems handles GET /queue-items/export.
func (h *Handlers) ExportQueueItems(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := queueItemFilter(q)
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.QueueItems.Export(r.Context(), tc, filter))
}

// QueueItemStats handles GET /queue-items/stats?queueId=.
func (h *Handlers) QueueItemStats(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	queueID := q.optInt64("queueId")
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.QueueItems.GetStats(r.Context(), tc, queueID))
}

// GetQueueItem handles GET /queue-items/{id}.
func (h *Handlers) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "queue item id")
	if !ok {
		return
	}
	respond(w, h.svc.QueueItems.GetByID(r.Context(), tc, id))
}

// UpdateQueueItem handles PATCH /queue-items/{id}.
func (h *Handlers) UpdateQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "queue item id")
	if !ok {
		return
	}
	var req service.UpdateQueueItemInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.QueueItems.Update(r.Context(), tc, id, req))
}

// DeleteQueueItem handles DELETE /queue-items/{id}.
func (h *Handlers) DeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "queue item id")
	if !ok {
		return
	}
	respond(w, h.svc.QueueItems.Delete(r.Context(), tc, id))
}

// RetryQueueItem handles POST /queue-items/{id}/retry.
func (h *Handlers) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "queue item id")
	if !ok {
		return
	}
	respond(w, h.svc.QueueItems.Retry(r.Context(), tc, id))
}

// CancelQueueItem handles POST /queue-items/{id}/cancel.
func (h *Handlers) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id", "queue item id")
	if !ok {
		return
	}
	respond(w, h.svc.QueueItems.Cancel(r.Context(), tc, id))
}
