package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by mutations whose target row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNotInTransaction is returned when a row lock is requested outside a transaction.
	ErrNotInTransaction = errors.New("row lock requires a transaction")
)

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...any) error
}

// Querier is the statement surface a repository runs on.
// It is backed by one pooled connection bound to a tenant context.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) Row
}

// Mutation functions receive the locked current row and return the patch to apply.
// Returning an error aborts the transaction.
type (
	JobMutation                func(current *Job) (JobPatch, error)
	QueueItemMutation          func(current *QueueItem) (QueueItemPatch, error)
	QueueMutation              func(current *Queue) (QueuePatch, error)
	TriggerMutation            func(current *Trigger) (TriggerPatch, error)
	WorkerMutation             func(current *Worker) (WorkerPatch, error)
	WorkerInstallationMutation func(current *WorkerInstallation) (WorkerInstallationPatch, error)
)

// Read methods return (nil, nil) when nothing matches. Mutations on a missing
// row return (nil, nil) too, so callers can report not-found themselves.

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, tc tenant.Context, job *Job) (*Job, error)
	GetJobByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, tc tenant.Context, filter JobFilter) ([]*Job, int64, error)
	UpdateJob(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate JobMutation) (*Job, error)
	DeleteJob(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error)
	JobStats(ctx context.Context, tc tenant.Context) (*JobStats, error)
}

// QueueItemStore persists queue items.
type QueueItemStore interface {
	CreateQueueItem(ctx context.Context, tc tenant.Context, item *QueueItem) (*QueueItem, error)
	GetQueueItem(ctx context.Context, tc tenant.Context, id int64) (*QueueItem, error)
	ListQueueItems(ctx context.Context, tc tenant.Context, filter QueueItemFilter) ([]*QueueItem, int64, error)
	CountQueueItems(ctx context.Context, tc tenant.Context, filter QueueItemFilter) (int64, error)
	UpdateQueueItem(ctx context.Context, tc tenant.Context, id int64, mutate QueueItemMutation) (*QueueItem, error)
	// RetryQueueItem runs check on the locked row, then resets it for
	// another attempt in a single statement.
	RetryQueueItem(ctx context.Context, tc tenant.Context, id int64, check func(current *QueueItem) error) (*QueueItem, error)
	DeleteQueueItem(ctx context.Context, tc tenant.Context, id int64) (bool, error)
	QueueItemStats(ctx context.Context, tc tenant.Context, queueID *int64) (*QueueItemStats, error)
}

// QueueStore persists queues.
type QueueStore interface {
	CreateQueue(ctx context.Context, tc tenant.Context, queue *Queue) (*Queue, error)
	GetQueueByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*Queue, error)
	ListQueues(ctx context.Context, tc tenant.Context, filter QueueFilter) ([]*Queue, int64, error)
	UpdateQueue(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate QueueMutation) (*Queue, error)
	DeleteQueue(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error)
}

// TriggerStore persists triggers.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, tc tenant.Context, trigger *Trigger) (*Trigger, error)
	GetTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID) (*Trigger, error)
	ListTriggers(ctx context.Context, tc tenant.Context, filter TriggerFilter) ([]*Trigger, int64, error)
	UpdateTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID, mutate TriggerMutation) (*Trigger, error)
	// RecordTriggerExecution runs check on the locked row, then increments
	// execution_count and stamps last_run_at/next_run_at.
	RecordTriggerExecution(ctx context.Context, tc tenant.Context, id uuid.UUID, check func(current *Trigger) (nextRunAt *time.Time, err error), executedAt time.Time, executedBy string) (*Trigger, error)
	DeleteTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID) (bool, error)
	TriggerStats(ctx context.Context, tc tenant.Context) (*TriggerStats, error)
}

// WorkerStore persists workers and their folder installations.
type WorkerStore interface {
	CreateWorker(ctx context.Context, tc tenant.Context, worker *Worker) (*Worker, error)
	GetWorkerByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*Worker, error)
	ListWorkers(ctx context.Context, tc tenant.Context, filter WorkerFilter) ([]*Worker, int64, error)
	UpdateWorker(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate WorkerMutation) (*Worker, error)
	DeleteWorker(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error)

	// CreateWorkerInstallation installs the worker identified by workerKey into
	// the bound folder. It returns ErrNotFound when no such worker is visible.
	CreateWorkerInstallation(ctx context.Context, tc tenant.Context, workerKey uuid.UUID, inst *WorkerInstallation) (*WorkerInstallation, error)
	ListWorkerInstallations(ctx context.Context, tc tenant.Context, page Page) ([]*WorkerInstallation, int64, error)
	UpdateWorkerInstallation(ctx context.Context, tc tenant.Context, id int64, mutate WorkerInstallationMutation) (*WorkerInstallation, error)
	DeleteWorkerInstallation(ctx context.Context, tc tenant.Context, id int64) (bool, error)
}
