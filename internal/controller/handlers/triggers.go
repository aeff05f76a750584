package handlers

import (
	"net/http"

	"botmaster/internal/service"
	"botmaster/internal/store"
)

// CreateTrigger handles POST /triggers.
func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req service.TriggerInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Triggers.Create(r.Context(), tc, req, user(r)))
}

// ListTriggers handles GET /triggers?type=&status=&isActive=&search=.
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := newQuery(r)
	filter := store.TriggerFilter{
		IsActive: q.optBool("isActive"),
		Search:   q.str("search"),
		Page:     q.page(),
	}
	if s := q.optStr("type"); s != nil {
		typ := store.TriggerType(*s)
		filter.Type = &typ
	}
	if s := q.optStr("status"); s != nil {
		status := store.TriggerStatus(*s)
		filter.Status = &status
	}
	if !q.ok(w) {
		return
	}
	respond(w, h.svc.Triggers.GetAll(r.Context(), tc, filter))
}

// GetTrigger handles GET /triggers/{id}.
func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	respond(w, h.svc.Triggers.GetByID(r.Context(), tc, id))
}

// UpdateTrigger handles PATCH /triggers/{id}.
func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	var req service.TriggerInput
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(w, h.svc.Triggers.Update(r.Context(), tc, id, req, user(r)))
}

// DeleteTrigger handles DELETE /triggers/{id}.
func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	respond(w, h.svc.Triggers.Delete(r.Context(), tc, id))
}

// ExecuteTrigger handles POST /triggers/{id}/execute.
func (h *Handlers) ExecuteTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	respond(w, h.svc.Triggers.Execute(r.Context(), tc, id, user(r)))
}

// HeaderWebhookSecret carries the secret of a webhook trigger.
const HeaderWebhookSecret = "X-Webhook-Secret"

// DeliverWebhook handles POST /triggers/{id}/webhook.
func (h *Handlers) DeliverWebhook(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	respond(w, h.svc.Triggers.Deliver(r.Context(), tc, id, r.Header.Get(HeaderWebhookSecret), user(r)))
}

// ToggleTrigger handles POST /triggers/{id}/toggle with {"isActive": bool}.
func (h *Handlers) ToggleTrigger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "trigger id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.IsActive == nil {
		httpError(w, "isActive is required", http.StatusBadRequest)
		return
	}
	respond(w, h.svc.Triggers.ToggleStatus(r.Context(), tc, id, *req.IsActive, user(r)))
}

// TriggerStats handles GET /triggers/stats.
func (h *Handlers) TriggerStats(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.scope(w, r)
	if !ok {
		return
	}
	respond(w, h.svc.Triggers.GetStats(r.Context(), tc))
}
