package service

import (
	"context"
	"log/slog"
	"strings"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

var queueConstraints = ConstraintTable{
	"queues_key_key":             "A queue with this key already exists",
	"queues_folder_key_name_key": "A queue with this name already exists in this folder",
}

// QueueInput creates or partially updates a queue.
type QueueInput struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Concurrency *int               `json:"concurrency"`
	RetryLimit  *int               `json:"retryLimit"`
	RetryDelay  *int               `json:"retryDelay"`
	Priority    *int               `json:"priority"`
	IsActive    *bool              `json:"isActive"`
	Status      *store.QueueStatus `json:"status"`
	Tags        []string           `json:"tags"`
	Metadata    map[string]any     `json:"metadata"`
}

func (in QueueInput) validate() error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ruleErrorf("Queue name cannot be empty")
	}
	if in.Concurrency != nil && *in.Concurrency < 1 {
		return ruleErrorf("Concurrency must be at least 1")
	}
	if in.RetryLimit != nil && *in.RetryLimit < 0 {
		return ruleErrorf("retryLimit cannot be negative")
	}
	if in.RetryDelay != nil && *in.RetryDelay < 0 {
		return ruleErrorf("retryDelay cannot be negative")
	}
	if in.Priority != nil && (*in.Priority < 0 || *in.Priority > 10) {
		return ruleErrorf("Priority must be between 0 and 10")
	}
	if in.Status != nil && !in.Status.Valid() {
		return ruleErrorf("Invalid queue status %q", *in.Status)
	}
	return nil
}

// QueueService manages queue configuration.
type QueueService struct {
	store store.QueueStore
	log   *slog.Logger
	tr    translator
}

func NewQueueService(s store.QueueStore, log *slog.Logger) *QueueService {
	log = log.With("service", "queue")
	return &QueueService{
		store: s,
		log:   log,
		tr:    newTranslator(log, queueConstraints, "Queue not found"),
	}
}

func (s *QueueService) Create(ctx context.Context, tc tenant.Context, in QueueInput, user string) Response[*store.Queue] {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return fail[*store.Queue](ctx, s.tr, "queue.create", ruleErrorf("Queue name is required"))
	}
	if err := in.validate(); err != nil {
		return fail[*store.Queue](ctx, s.tr, "queue.create", err)
	}

	queue := &store.Queue{
		Key:         uuid.New(),
		Name:        strings.TrimSpace(*in.Name),
		Concurrency: 1,
		RetryLimit:  3,
		RetryDelay:  60,
		Priority:    5,
		IsActive:    true,
		Status:      store.QueueStatusActive,
		Tags:        in.Tags,
		Metadata:    orEmpty(in.Metadata),
		CreatedBy:   actor(user),
		UpdatedBy:   actor(user),
	}
	if in.Description != nil {
		queue.Description = *in.Description
	}
	if in.Concurrency != nil {
		queue.Concurrency = *in.Concurrency
	}
	if in.RetryLimit != nil {
		queue.RetryLimit = *in.RetryLimit
	}
	if in.RetryDelay != nil {
		queue.RetryDelay = *in.RetryDelay
	}
	if in.Priority != nil {
		queue.Priority = *in.Priority
	}
	if in.IsActive != nil {
		queue.IsActive = *in.IsActive
	}
	if in.Status != nil {
		queue.Status = *in.Status
	}

	saved, err := s.store.CreateQueue(ctx, tc, queue)
	if err != nil {
		return fail[*store.Queue](ctx, s.tr, "queue.create", err)
	}
	s.log.InfoContext(ctx, "queue created", "key", saved.Key, "name", saved.Name)
	return created("Queue created successfully", saved)
}

func (s *QueueService) GetByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[*store.Queue] {
	queue, err := s.store.GetQueueByKey(ctx, tc, key)
	if err != nil {
		return fail[*store.Queue](ctx, s.tr, "queue.get", err)
	}
	if queue == nil {
		return notFound[*store.Queue](ctx, s.tr, "queue.get")
	}
	return ok("Queue retrieved successfully", queue)
}

func (s *QueueService) GetAll(ctx context.Context, tc tenant.Context, filter store.QueueFilter) Response[Paged[*store.Queue]] {
	queues, total, err := s.store.ListQueues(ctx, tc, filter)
	if err != nil {
		return fail[Paged[*store.Queue]](ctx, s.tr, "queue.list", err)
	}
	return ok("Queues retrieved successfully", newPaged(queues, total, filter.Page))
}

func (s *QueueService) Update(ctx context.Context, tc tenant.Context, key uuid.UUID, in QueueInput, user string) Response[*store.Queue] {
	if err := in.validate(); err != nil {
		return fail[*store.Queue](ctx, s.tr, "queue.update", err)
	}
	patch := store.QueuePatch{
		Name:        in.Name,
		Description: in.Description,
		Concurrency: in.Concurrency,
		RetryLimit:  in.RetryLimit,
		RetryDelay:  in.RetryDelay,
		Priority:    in.Priority,
		IsActive:    in.IsActive,
		Status:      in.Status,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		UpdatedBy:   actor(user),
	}

	queue, err := s.store.UpdateQueue(ctx, tc, key, func(*store.Queue) (store.QueuePatch, error) {
		return patch, nil
	})
	if err != nil {
		return fail[*store.Queue](ctx, s.tr, "queue.update", err)
	}
	if queue == nil {
		return notFound[*store.Queue](ctx, s.tr, "queue.update")
	}
	return ok("Queue updated successfully", queue)
}

func (s *QueueService) Delete(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[bool] {
	deleted, err := s.store.DeleteQueue(ctx, tc, key)
	if err != nil {
		return fail[bool](ctx, s.tr, "queue.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "queue.delete")
	}
	return ok("Queue deleted successfully", true)
}
