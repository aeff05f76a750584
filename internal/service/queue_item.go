package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botmaster/internal/store"
	"botmaster/internal/tenant"
)

const exportTTL = 24 * time.Hour

var queueItemConstraints = ConstraintTable{
	"queue_items_queue_id_job_id_key": "A queue item with this job id already exists in the queue",
	"queue_items_queue_id_fkey":       "Queue does not exist",
}

// DownloadSigner produces a time-limited download URL for an exported object.
type DownloadSigner interface {
	SignedURL(ctx context.Context, objectName string, expires time.Time) (string, error)
}

// ExportDescriptor points at a queue item export.
type ExportDescriptor struct {
	DownloadURL string    `json:"downloadUrl"`
	FileName    string    `json:"fileName"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ItemCount   int64     `json:"itemCount"`
}

// CreateQueueItemInput is the payload for QueueItemService.Create.
type CreateQueueItemInput struct {
	QueueID       int64          `json:"queueId"`
	JobID         string         `json:"jobId"`
	JobName       *string        `json:"jobName"`
	WorkerID      *string        `json:"workerId"`
	WorkerName    *string        `json:"workerName"`
	WorkerVersion *string        `json:"workerVersion"`
	Payload       map[string]any `json:"payload"`
	MaxAttempts   *int           `json:"maxAttempts"`
	Priority      *int           `json:"priority"`
	Tags          []string       `json:"tags"`
	Metadata      map[string]any `json:"metadata"`
}

// UpdateQueueItemInput is a partial queue item update.
type UpdateQueueItemInput struct {
	Status         *store.QueueItemStatus `json:"status"`
	JobName        *string                `json:"jobName"`
	WorkerID       *string                `json:"workerId"`
	WorkerName     *string                `json:"workerName"`
	WorkerVersion  *string                `json:"workerVersion"`
	Payload        map[string]any         `json:"payload"`
	Result         map[string]any         `json:"result"`
	ErrorMessage   *string                `json:"errorMessage"`
	MaxAttempts    *int                   `json:"maxAttempts"`
	Priority       *int                   `json:"priority"`
	Tags           []string               `json:"tags"`
	Metadata       map[string]any         `json:"metadata"`
	ProcessingTime *int64                 `json:"processingTime"`
	StartedAt      *time.Time             `json:"startedAt"`
	FinishedAt     *time.Time             `json:"finishedAt"`
}

// QueueItemService runs the queue item lifecycle.
type QueueItemService struct {
	store  store.QueueItemStore
	signer DownloadSigner
	log    *slog.Logger
	tr     translator
	now    func() time.Time
}

func NewQueueItemService(s store.QueueItemStore, signer DownloadSigner, log *slog.Logger) *QueueItemService {
	log = log.With("service", "queue_item")
	return &QueueItemService{
		store:  s,
		signer: signer,
		log:    log,
		tr:     newTranslator(log, queueItemConstraints, "Queue item not found"),
		now:    time.Now,
	}
}

func (s *QueueItemService) Create(ctx context.Context, tc tenant.Context, in CreateQueueItemInput) Response[*store.QueueItem] {
	if in.QueueID <= 0 || strings.TrimSpace(in.JobID) == "" {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.create", ruleErrorf("queueId and jobId are required"))
	}
	if err := validateQueueItemFields(nil, in.Priority, in.MaxAttempts); err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.create", err)
	}

	item := &store.QueueItem{
		QueueID:       in.QueueID,
		JobID:         strings.TrimSpace(in.JobID),
		JobName:       in.JobName,
		WorkerID:      in.WorkerID,
		WorkerName:    in.WorkerName,
		WorkerVersion: in.WorkerVersion,
		Status:        store.QueueItemStatusWaiting,
		Payload:       orEmpty(in.Payload),
		MaxAttempts:   3,
		Priority:      5,
		Tags:          in.Tags,
		Metadata:      orEmpty(in.Metadata),
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if in.MaxAttempts != nil {
		item.MaxAttempts = *in.MaxAttempts
	}
	if in.Priority != nil {
		item.Priority = *in.Priority
	}

	saved, err := s.store.CreateQueueItem(ctx, tc, item)
	if err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.create", err)
	}
	s.log.InfoContext(ctx, "queue item created", "id", saved.ID, "queue_id", saved.QueueID, "job_id", saved.JobID)
	return created("Queue item created successfully", saved)
}

func (s *QueueItemService) GetByID(ctx context.Context, tc tenant.Context, id int64) Response[*store.QueueItem] {
	item, err := s.store.GetQueueItem(ctx, tc, id)
	if err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.get", err)
	}
	if item == nil {
		return notFound[*store.QueueItem](ctx, s.tr, "queue_item.get")
	}
	return ok("Queue item retrieved successfully", item)
}

func (s *QueueItemService) GetAll(ctx context.Context, tc tenant.Context, filter store.QueueItemFilter) Response[Paged[*store.QueueItem]] {
	if err := validateQueueItemFilter(filter); err != nil {
		return fail[Paged[*store.QueueItem]](ctx, s.tr, "queue_item.list", err)
	}
	items, total, err := s.store.ListQueueItems(ctx, tc, filter)
	if err != nil {
		return fail[Paged[*store.QueueItem]](ctx, s.tr, "queue_item.list", err)
	}
	return ok("Queue items retrieved successfully", newPaged(items, total, filter.Page))
}

// Update applies a partial update. Moving to processing stamps startedAt;
// moving to a finished status stamps finishedAt and the processing time.
func (s *QueueItemService) Update(ctx context.Context, tc tenant.Context, id int64, in UpdateQueueItemInput) Response[*store.QueueItem] {
	if err := validateQueueItemFields(in.Status, in.Priority, in.MaxAttempts); err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.update", err)
	}

	patch := store.QueueItemPatch{
		Status:         in.Status,
		JobName:        in.JobName,
		WorkerID:       in.WorkerID,
		WorkerName:     in.WorkerName,
		WorkerVersion:  in.WorkerVersion,
		Payload:        in.Payload,
		Result:         in.Result,
		ErrorMessage:   in.ErrorMessage,
		MaxAttempts:    in.MaxAttempts,
		Priority:       in.Priority,
		Tags:           in.Tags,
		Metadata:       in.Metadata,
		ProcessingTime: in.ProcessingTime,
		StartedAt:      in.StartedAt,
		FinishedAt:     in.FinishedAt,
	}
	now := stamp(s.now)

	item, err := s.store.UpdateQueueItem(ctx, tc, id, func(current *store.QueueItem) (store.QueueItemPatch, error) {
		deriveQueueItemTimes(current, &patch, now)
		return patch, nil
	})
	if err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.update", err)
	}
	if item == nil {
		return notFound[*store.QueueItem](ctx, s.tr, "queue_item.update")
	}
	return ok("Queue item updated successfully", item)
}

func (s *QueueItemService) Delete(ctx context.Context, tc tenant.Context, id int64) Response[bool] {
	deleted, err := s.store.DeleteQueueItem(ctx, tc, id)
	if err != nil {
		return fail[bool](ctx, s.tr, "queue_item.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "queue_item.delete")
	}
	return ok("Queue item deleted successfully", true)
}

// Retry puts a failed item back to waiting and counts the attempt.
func (s *QueueItemService) Retry(ctx context.Context, tc tenant.Context, id int64) Response[*store.QueueItem] {
	item, err := s.store.RetryQueueItem(ctx, tc, id, func(current *store.QueueItem) error {
		if current.Status != store.QueueItemStatusError {
			return ruleErrorf("Only queue items in error status can be retried")
		}
		if current.Attempts >= current.MaxAttempts {
			return ruleErrorf("Queue item has reached its maximum of %d attempts", current.MaxAttempts)
		}
		return nil
	})
	if err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.retry", err)
	}
	if item == nil {
		return notFound[*store.QueueItem](ctx, s.tr, "queue_item.retry")
	}
	s.log.InfoContext(ctx, "queue item retried", "id", id, "attempts", item.Attempts)
	return ok("Queue item queued for retry", item)
}

// Cancel ends a waiting or processing item.
func (s *QueueItemService) Cancel(ctx context.Context, tc tenant.Context, id int64) Response[*store.QueueItem] {
	now := stamp(s.now)
	item, err := s.store.UpdateQueueItem(ctx, tc, id, func(current *store.QueueItem) (store.QueueItemPatch, error) {
		if current.Status != store.QueueItemStatusWaiting && current.Status != store.QueueItemStatusProcessing {
			return store.QueueItemPatch{}, ruleErrorf("Cannot cancel a queue item in %s status", current.Status)
		}
		status := store.QueueItemStatusCancelled
		patch := store.QueueItemPatch{Status: &status}
		deriveQueueItemTimes(current, &patch, now)
		return patch, nil
	})
	if err != nil {
		return fail[*store.QueueItem](ctx, s.tr, "queue_item.cancel", err)
	}
	if item == nil {
		return notFound[*store.QueueItem](ctx, s.tr, "queue_item.cancel")
	}
	return ok("Queue item cancelled successfully", item)
}

// Export describes a download of the items matching filter. Writing the file
// itself belongs to the storage collaborator behind the signer.
func (s *QueueItemService) Export(ctx context.Context, tc tenant.Context, filter store.QueueItemFilter) Response[*ExportDescriptor] {
	if err := validateQueueItemFilter(filter); err != nil {
		return fail[*ExportDescriptor](ctx, s.tr, "queue_item.export", err)
	}
	count, err := s.store.CountQueueItems(ctx, tc, filter)
	if err != nil {
		return fail[*ExportDescriptor](ctx, s.tr, "queue_item.export", err)
	}

	now := stamp(s.now)
	fileName := fmt.Sprintf("queue-items-%s.csv", now.Format("20060102-150405"))
	expiresAt := now.Add(exportTTL)
	objectName := tc.FolderKey.String() + "/" + fileName

	url, err := s.signer.SignedURL(ctx, objectName, expiresAt)
	if err != nil {
		return fail[*ExportDescriptor](ctx, s.tr, "queue_item.export", fmt.Errorf("sign export url: %w", err))
	}
	return ok("Queue items export prepared", &ExportDescriptor{
		DownloadURL: url,
		FileName:    fileName,
		ExpiresAt:   expiresAt,
		ItemCount:   count,
	})
}

func (s *QueueItemService) GetStats(ctx context.Context, tc tenant.Context, queueID *int64) Response[*store.QueueItemStats] {
	st, err := s.store.QueueItemStats(ctx, tc, queueID)
	if err != nil {
		return fail[*store.QueueItemStats](ctx, s.tr, "queue_item.stats", err)
	}
	return ok("Queue item statistics retrieved successfully", st)
}

func validateQueueItemFields(status *store.QueueItemStatus, priority, maxAttempts *int) error {
	if status != nil && !status.Valid() {
		return ruleErrorf("Invalid queue item status %q", *status)
	}
	if priority != nil && (*priority < 0 || *priority > 10) {
		return ruleErrorf("Priority must be between 0 and 10")
	}
	if maxAttempts != nil && *maxAttempts < 1 {
		return ruleErrorf("maxAttempts must be at least 1")
	}
	return nil
}

func validateQueueItemFilter(filter store.QueueItemFilter) error {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return ruleErrorf("Invalid queue item status %q", st)
		}
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return ruleErrorf("from must not be after to")
	}
	return nil
}

// deriveQueueItemTimes fills the timestamps that accompany a status change
// when the caller did not supply them.
func deriveQueueItemTimes(current *store.QueueItem, p *store.QueueItemPatch, now time.Time) {
	if p.Status == nil {
		return
	}
	switch {
	case *p.Status == store.QueueItemStatusProcessing:
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
	case p.Status.Finished():
		if p.FinishedAt == nil {
			p.FinishedAt = &now
		}
		if p.ProcessingTime == nil {
			started := p.StartedAt
			if started == nil {
				started = current.StartedAt
			}
			p.ProcessingTime = durationSince(started, *p.FinishedAt)
		}
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
