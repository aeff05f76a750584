// Package store contains the database layer for botmaster.
package store

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a single tracked unit of automation work.
// Duration is in milliseconds and only set once both StartedAt and CompletedAt are.
type Job struct {
	ID          int64          `json:"id"`
	Key         uuid.UUID      `json:"key"`
	FolderKey   uuid.UUID      `json:"folderKey"`
	Name        string         `json:"name"`
	WorkerKey   string         `json:"workerKey"`
	FlowKey     *string        `json:"flowKey"`
	Status      JobStatus      `json:"status"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Result      map[string]any `json:"result"`
	Progress    int            `json:"progress"`
	Duration    *int64         `json:"duration"`
	StartedAt   *time.Time     `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	Error       *string        `json:"error"`
	CreatedBy   string         `json:"createdBy"`
	UpdatedBy   string         `json:"updatedBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// JobPatch is a partial update. Nil fields are left unchanged.
type JobPatch struct {
	Name        *string
	Description *string
	WorkerKey   *string
	FlowKey     *string
	Status      *JobStatus
	Parameters  map[string]any
	Result      map[string]any
	Progress    *int
	Duration    *int64
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	UpdatedBy   string
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status    *JobStatus
	WorkerKey *string
	Search    string
	Page      Page
}

// JobStats aggregates jobs per status.
type JobStats struct {
	Total           int64   `json:"total"`
	Pending         int64   `json:"pending"`
	Running         int64   `json:"running"`
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	AverageDuration float64 `json:"averageDuration"`
}

// QueueItemStatus represents the state of a queue item.
type QueueItemStatus string

const (
	QueueItemStatusWaiting    QueueItemStatus = "waiting"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusCompleted  QueueItemStatus = "completed"
	QueueItemStatusError      QueueItemStatus = "error"
	QueueItemStatusCancelled  QueueItemStatus = "cancelled"
)

// Valid reports whether s is a known queue item status.
func (s QueueItemStatus) Valid() bool {
	switch s {
	case QueueItemStatusWaiting, QueueItemStatusProcessing, QueueItemStatusCompleted,
		QueueItemStatusError, QueueItemStatusCancelled:
		return true
	}
	return false
}

// Finished reports whether the item reached an end state.
func (s QueueItemStatus) Finished() bool {
	return s == QueueItemStatusCompleted || s == QueueItemStatusError || s == QueueItemStatusCancelled
}

// QueueItem is one piece of work waiting in a queue.
// ProcessingTime is in milliseconds.
type QueueItem struct {
	ID             int64           `json:"id"`
	FolderKey      uuid.UUID       `json:"folderKey"`
	QueueID        int64           `json:"queueId"`
	JobID          string          `json:"jobId"`
	JobName        *string         `json:"jobName"`
	WorkerID       *string         `json:"workerId"`
	WorkerName     *string         `json:"workerName"`
	WorkerVersion  *string         `json:"workerVersion"`
	Status         QueueItemStatus `json:"status"`
	Payload        map[string]any  `json:"payload"`
	Result         map[string]any  `json:"result"`
	ErrorMessage   *string         `json:"errorMessage"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	Priority       int             `json:"priority"`
	Tags           []string        `json:"tags"`
	Metadata       map[string]any  `json:"metadata"`
	ProcessingTime *int64          `json:"processingTime"`
	StartedAt      *time.Time      `json:"startedAt"`
	FinishedAt     *time.Time      `json:"finishedAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// QueueItemPatch is a partial update. Nil fields are left unchanged.
type QueueItemPatch struct {
	Status         *QueueItemStatus
	JobName        *string
	WorkerID       *string
	WorkerName     *string
	WorkerVersion  *string
	Payload        map[string]any
	Result         map[string]any
	ErrorMessage   *string
	MaxAttempts    *int
	Priority       *int
	Tags           []string
	Metadata       map[string]any
	ProcessingTime *int64
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// QueueItemFilter narrows queue item listings. From and To bound created_at.
type QueueItemFilter struct {
	Statuses []QueueItemStatus
	QueueID  *int64
	WorkerID *string
	JobID    *string
	From     *time.Time
	To       *time.Time
	Search   string
	Page     Page
}

// QueueItemStats counts queue items per status.
type QueueItemStats struct {
	Total      int64 `json:"total"`
	Waiting    int64 `json:"waiting"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Error      int64 `json:"error"`
	Cancelled  int64 `json:"cancelled"`
}

// QueueStatus represents the operational state of a queue.
type QueueStatus string

const (
	QueueStatusActive QueueStatus = "active"
	QueueStatusPaused QueueStatus = "paused"
	QueueStatusError  QueueStatus = "error"
)

// Valid reports whether s is a known queue status.
func (s QueueStatus) Valid() bool {
	return s == QueueStatusActive || s == QueueStatusPaused || s == QueueStatusError
}

// Queue groups queue items and holds their processing configuration.
// RetryDelay is in seconds.
type Queue struct {
	ID          int64          `json:"id"`
	Key         uuid.UUID      `json:"key"`
	FolderKey   uuid.UUID      `json:"folderKey"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Concurrency int            `json:"concurrency"`
	RetryLimit  int            `json:"retryLimit"`
	RetryDelay  int            `json:"retryDelay"`
	Priority    int            `json:"priority"`
	IsActive    bool           `json:"isActive"`
	Status      QueueStatus    `json:"status"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	CreatedBy   string         `json:"createdBy"`
	UpdatedBy   string         `json:"updatedBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// QueuePatch is a partial update. Nil fields are left unchanged.
type QueuePatch struct {
	Name        *string
	Description *string
	Concurrency *int
	RetryLimit  *int
	RetryDelay  *int
	Priority    *int
	IsActive    *bool
	Status      *QueueStatus
	Tags        []string
	Metadata    map[string]any
	UpdatedBy   string
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	Status   *QueueStatus
	IsActive *bool
	Search   string
	Page     Page
}

// TriggerType selects which type-specific fields a trigger carries.
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeData     TriggerType = "data"
)

// TriggerTarget names what a trigger starts.
type TriggerTarget string

const (
	TriggerTargetWorkflow TriggerTarget = "workflow"
	TriggerTargetWorker   TriggerTarget = "worker"
)

// TriggerStatus represents the state of a trigger.
type TriggerStatus string

const (
	TriggerStatusActive   TriggerStatus = "active"
	TriggerStatusInactive TriggerStatus = "inactive"
	TriggerStatusError    TriggerStatus = "error"
)

// Trigger starts a workflow or a worker when its condition fires.
// Exactly one of WorkflowID and WorkerID is set, matching TargetType.
type Trigger struct {
	ID                uuid.UUID     `json:"id"`
	FolderKey         uuid.UUID     `json:"folderKey"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Type              TriggerType   `json:"type"`
	TargetType        TriggerTarget `json:"targetType"`
	WorkflowID        *string       `json:"workflowId"`
	WorkerID          *string       `json:"workerId"`
	Status            TriggerStatus `json:"status"`
	IsActive          bool          `json:"isActive"`
	ScheduleFrequency *string       `json:"scheduleFrequency"`
	CronExpression    *string       `json:"cronExpression"`
	WebhookEndpoint   *string       `json:"webhookEndpoint"`
	WebhookMethod     *string       `json:"webhookMethod"`
	WebhookSecret     *string       `json:"-"`
	EventSource       *string       `json:"eventSource"`
	EventName         *string       `json:"eventName"`
	DataSource        *string       `json:"dataSource"`
	DataCondition     *string       `json:"dataCondition"`
	LastRunAt         *time.Time    `json:"lastRunAt"`
	NextRunAt         *time.Time    `json:"nextRunAt"`
	ExecutionCount    int64         `json:"executionCount"`
	CreatedBy         string        `json:"createdBy"`
	UpdatedBy         string        `json:"updatedBy"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// TriggerField names a nullable trigger column that a patch can reset.
type TriggerField int

const (
	TriggerFieldWorkflowID TriggerField = iota + 1
	TriggerFieldWorkerID
	TriggerFieldScheduleFrequency
	TriggerFieldCronExpression
	TriggerFieldWebhookEndpoint
	TriggerFieldWebhookMethod
	TriggerFieldWebhookSecret
	TriggerFieldEventSource
	TriggerFieldEventName
	TriggerFieldDataSource
	TriggerFieldDataCondition
	TriggerFieldNextRunAt
)

// TriggerPatch is a partial update. Nil fields are left unchanged; fields
// listed in Clear are set to NULL. A field must not be both set and cleared.
type TriggerPatch struct {
	Name              *string
	Description       *string
	Type              *TriggerType
	TargetType        *TriggerTarget
	WorkflowID        *string
	WorkerID          *string
	Status            *TriggerStatus
	IsActive          *bool
	ScheduleFrequency *string
	CronExpression    *string
	WebhookEndpoint   *string
	WebhookMethod     *string
	WebhookSecret     *string
	EventSource       *string
	EventName         *string
	DataSource        *string
	DataCondition     *string
	NextRunAt         *time.Time
	Clear             []TriggerField
	UpdatedBy         string
}

// TriggerFilter narrows trigger listings.
type TriggerFilter struct {
	Type     *TriggerType
	Status   *TriggerStatus
	IsActive *bool
	Search   string
	Page     Page
}

// TriggerStats counts triggers by status and type.
type TriggerStats struct {
	Total           int64 `json:"total"`
	Active          int64 `json:"active"`
	Inactive        int64 `json:"inactive"`
	Error           int64 `json:"error"`
	Schedule        int64 `json:"schedule"`
	Webhook         int64 `json:"webhook"`
	Event           int64 `json:"event"`
	Data            int64 `json:"data"`
	TotalExecutions int64 `json:"totalExecutions"`
}

// WorkerScope is the visibility boundary of a worker.
type WorkerScope string

const (
	WorkerScopeFolder       WorkerScope = "folder"
	WorkerScopeTenant       WorkerScope = "tenant"
	WorkerScopeOrganization WorkerScope = "organization"
	WorkerScopePublic       WorkerScope = "public"
)

// Valid reports whether s is a known scope.
func (s WorkerScope) Valid() bool {
	switch s {
	case WorkerScopeFolder, WorkerScopeTenant, WorkerScopeOrganization, WorkerScopePublic:
		return true
	}
	return false
}

// Worker is an automation package that can be installed into folders.
// ScopeRef is nil if and only if Scope is public.
type Worker struct {
	ID          int64       `json:"id"`
	Key         uuid.UUID   `json:"key"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Scope       WorkerScope `json:"scope"`
	ScopeRef    *string     `json:"scopeRef"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// WorkerPatch is a partial update. When Scope is set, ScopeRef is written as
// given, including nil.
type WorkerPatch struct {
	Name        *string
	Description *string
	Scope       *WorkerScope
	ScopeRef    *string
	UpdatedBy   string
}

// WorkerFilter narrows worker listings.
type WorkerFilter struct {
	Scope  *WorkerScope
	Search string
	Page   Page
}

// WorkerInstallation binds a worker to a folder with its default properties.
type WorkerInstallation struct {
	ID             int64          `json:"id"`
	WorkerID       int64          `json:"workerId"`
	FolderKey      uuid.UUID      `json:"folderKey"`
	Priority       int            `json:"priority"`
	DefaultVersion *string        `json:"defaultVersion"`
	Settings       map[string]any `json:"settings"`
	Parameters     map[string]any `json:"parameters"`
	Options        map[string]any `json:"options"`
	CreatedBy      string         `json:"createdBy"`
	UpdatedBy      string         `json:"updatedBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// WorkerInstallationPatch is a partial update. Nil fields are left unchanged.
type WorkerInstallationPatch struct {
	Priority       *int
	DefaultVersion *string
	Settings       map[string]any
	Parameters     map[string]any
	Options        map[string]any
	UpdatedBy      string
}

// Page selects one page of a listing. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize clamps the page into range.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}
