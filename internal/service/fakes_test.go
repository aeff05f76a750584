package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTenant(t *testing.T) tenant.Context {
	t.Helper()
	tc, err := tenant.New(uuid.New(), nil, "", "")
	if err != nil {
		t.Fatalf("tenant.New: %v", err)
	}
	return tc
}

// fixedClock returns start and advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

func fkViolation(constraint string) error {
	return &pq.Error{Code: "23503", Constraint: constraint}
}

// Jobs

type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*store.Job
	nextID int64

	createErr error
	getErr    error
	updateErr error
	deleteErr error
	statsResp *store.JobStats

	capturedFilter store.JobFilter
	mutateCalls    int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]*store.Job{}}
}

func (f *fakeJobStore) CreateJob(_ context.Context, tc tenant.Context, job *store.Job) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, dup := f.jobs[job.Key]; dup {
		return nil, uniqueViolation("jobs_key_key")
	}
	f.nextID++
	saved := *job
	saved.ID = f.nextID
	saved.FolderKey = tc.FolderKey
	f.jobs[job.Key] = &saved
	out := saved
	return &out, nil
}

func (f *fakeJobStore) GetJobByKey(_ context.Context, _ tenant.Context, key uuid.UUID) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	job, ok := f.jobs[key]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (f *fakeJobStore) ListJobs(_ context.Context, _ tenant.Context, filter store.JobFilter) ([]*store.Job, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturedFilter = filter
	var out []*store.Job
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeJobStore) UpdateJob(_ context.Context, _ tenant.Context, key uuid.UUID, mutate store.JobMutation) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	job, ok := f.jobs[key]
	if !ok {
		return nil, nil
	}
	current := *job
	f.mutateCalls++
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	applyJobPatch(job, p)
	out := *job
	return &out, nil
}

func (f *fakeJobStore) DeleteJob(_ context.Context, _ tenant.Context, key uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.jobs[key]
	delete(f.jobs, key)
	return ok, nil
}

func (f *fakeJobStore) JobStats(context.Context, tenant.Context) (*store.JobStats, error) {
	return f.statsResp, nil
}

func applyJobPatch(j *store.Job, p store.JobPatch) {
	if p.Name != nil {
		j.Name = *p.Name
	}
	if p.Description != nil {
		j.Description = *p.Description
	}
	if p.WorkerKey != nil {
		j.WorkerKey = *p.WorkerKey
	}
	if p.FlowKey != nil {
		j.FlowKey = p.FlowKey
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Parameters != nil {
		j.Parameters = p.Parameters
	}
	if p.Result != nil {
		j.Result = p.Result
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.Duration != nil {
		j.Duration = p.Duration
	}
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = p.CompletedAt
	}
	if p.Error != nil {
		j.Error = p.Error
	}
	if p.UpdatedBy != "" {
		j.UpdatedBy = p.UpdatedBy
	}
}

// Queue items

type fakeQueueItemStore struct {
	mu     sync.Mutex
	items  map[int64]*store.QueueItem
	queues map[int64]bool
	nextID int64

	countResp      int64
	capturedFilter store.QueueItemFilter
	retryCalls     int
	writes         int
}

func newFakeQueueItemStore(queueIDs ...int64) *fakeQueueItemStore {
	f := &fakeQueueItemStore{items: map[int64]*store.QueueItem{}, queues: map[int64]bool{}}
	for _, id := range queueIDs {
		f.queues[id] = true
	}
	return f
}

func (f *fakeQueueItemStore) CreateQueueItem(_ context.Context, tc tenant.Context, item *store.QueueItem) (*store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.queues[item.QueueID] {
		return nil, fkViolation("queue_items_queue_id_fkey")
	}
	for _, it := range f.items {
		if it.QueueID == item.QueueID && it.JobID == item.JobID {
			return nil, uniqueViolation("queue_items_queue_id_job_id_key")
		}
	}
	f.nextID++
	saved := *item
	saved.ID = f.nextID
	saved.FolderKey = tc.FolderKey
	f.items[saved.ID] = &saved
	out := saved
	return &out, nil
}

func (f *fakeQueueItemStore) GetQueueItem(_ context.Context, _ tenant.Context, id int64) (*store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	out := *it
	return &out, nil
}

func (f *fakeQueueItemStore) ListQueueItems(_ context.Context, _ tenant.Context, filter store.QueueItemFilter) ([]*store.QueueItem, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturedFilter = filter
	var out []*store.QueueItem
	for _, it := range f.items {
		cp := *it
		out = append(out, &cp)
	}
	return out, f.countResp, nil
}

func (f *fakeQueueItemStore) CountQueueItems(_ context.Context, _ tenant.Context, filter store.QueueItemFilter) (int64, error) {
	f.capturedFilter = filter
	return f.countResp, nil
}

func (f *fakeQueueItemStore) UpdateQueueItem(_ context.Context, _ tenant.Context, id int64, mutate store.QueueItemMutation) (*store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	current := *it
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	f.writes++
	applyQueueItemPatch(it, p)
	out := *it
	return &out, nil
}

func (f *fakeQueueItemStore) RetryQueueItem(_ context.Context, _ tenant.Context, id int64, check func(*store.QueueItem) error) (*store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	current := *it
	if err := check(&current); err != nil {
		return nil, err
	}
	f.retryCalls++
	it.Attempts++
	it.Status = store.QueueItemStatusWaiting
	it.StartedAt, it.FinishedAt, it.ErrorMessage, it.ProcessingTime, it.Result = nil, nil, nil, nil, nil
	out := *it
	return &out, nil
}

func (f *fakeQueueItemStore) DeleteQueueItem(_ context.Context, _ tenant.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[id]
	delete(f.items, id)
	return ok, nil
}

func (f *fakeQueueItemStore) QueueItemStats(_ context.Context, _ tenant.Context, queueID *int64) (*store.QueueItemStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &store.QueueItemStats{}
	for _, it := range f.items {
		if queueID != nil && it.QueueID != *queueID {
			continue
		}
		st.Total++
		switch it.Status {
		case store.QueueItemStatusWaiting:
			st.Waiting++
		case store.QueueItemStatusProcessing:
			st.Processing++
		case store.QueueItemStatusCompleted:
			st.Completed++
		case store.QueueItemStatusError:
			st.Error++
		case store.QueueItemStatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func applyQueueItemPatch(it *store.QueueItem, p store.QueueItemPatch) {
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.JobName != nil {
		it.JobName = p.JobName
	}
	if p.WorkerID != nil {
		it.WorkerID = p.WorkerID
	}
	if p.Result != nil {
		it.Result = p.Result
	}
	if p.ErrorMessage != nil {
		it.ErrorMessage = p.ErrorMessage
	}
	if p.MaxAttempts != nil {
		it.MaxAttempts = *p.MaxAttempts
	}
	if p.Priority != nil {
		it.Priority = *p.Priority
	}
	if p.Tags != nil {
		it.Tags = p.Tags
	}
	if p.ProcessingTime != nil {
		it.ProcessingTime = p.ProcessingTime
	}
	if p.StartedAt != nil {
		it.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		it.FinishedAt = p.FinishedAt
	}
}

// Triggers

type fakeTriggerStore struct {
	mu       sync.Mutex
	triggers map[uuid.UUID]*store.Trigger
	created  *store.Trigger
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{triggers: map[uuid.UUID]*store.Trigger{}}
}

func (f *fakeTriggerStore) CreateTrigger(_ context.Context, tc tenant.Context, tr *store.Trigger) (*store.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.triggers {
		if existing.Name == tr.Name {
			return nil, uniqueViolation("triggers_folder_key_name_key")
		}
	}
	saved := *tr
	saved.FolderKey = tc.FolderKey
	f.triggers[saved.ID] = &saved
	f.created = &saved
	out := saved
	return &out, nil
}

func (f *fakeTriggerStore) GetTrigger(_ context.Context, _ tenant.Context, id uuid.UUID) (*store.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.triggers[id]
	if !ok {
		return nil, nil
	}
	out := *tr
	return &out, nil
}

func (f *fakeTriggerStore) ListTriggers(context.Context, tenant.Context, store.TriggerFilter) ([]*store.Trigger, int64, error) {
	return nil, 0, nil
}

func (f *fakeTriggerStore) UpdateTrigger(_ context.Context, _ tenant.Context, id uuid.UUID, mutate store.TriggerMutation) (*store.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.triggers[id]
	if !ok {
		return nil, nil
	}
	current := *tr
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	applyTriggerPatch(tr, p)
	out := *tr
	return &out, nil
}

func (f *fakeTriggerStore) RecordTriggerExecution(_ context.Context, _ tenant.Context, id uuid.UUID, check func(*store.Trigger) (*time.Time, error), executedAt time.Time, executedBy string) (*store.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.triggers[id]
	if !ok {
		return nil, nil
	}
	current := *tr
	next, err := check(&current)
	if err != nil {
		return nil, err
	}
	tr.ExecutionCount++
	tr.LastRunAt = &executedAt
	if next != nil {
		tr.NextRunAt = next
	}
	tr.UpdatedBy = executedBy
	out := *tr
	return &out, nil
}

func (f *fakeTriggerStore) DeleteTrigger(_ context.Context, _ tenant.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.triggers[id]
	delete(f.triggers, id)
	return ok, nil
}

func (f *fakeTriggerStore) TriggerStats(context.Context, tenant.Context) (*store.TriggerStats, error) {
	return &store.TriggerStats{}, nil
}

// applyTriggerPatch mirrors the repository: set fields first, then the
// columns listed in Clear become NULL.
func applyTriggerPatch(tr *store.Trigger, p store.TriggerPatch) {
	if p.Name != nil {
		tr.Name = *p.Name
	}
	if p.Description != nil {
		tr.Description = *p.Description
	}
	if p.Type != nil {
		tr.Type = *p.Type
	}
	if p.TargetType != nil {
		tr.TargetType = *p.TargetType
	}
	if p.Status != nil {
		tr.Status = *p.Status
	}
	if p.IsActive != nil {
		tr.IsActive = *p.IsActive
	}
	strs := []struct {
		dst **string
		v   *string
	}{
		{&tr.WorkflowID, p.WorkflowID},
		{&tr.WorkerID, p.WorkerID},
		{&tr.ScheduleFrequency, p.ScheduleFrequency},
		{&tr.CronExpression, p.CronExpression},
		{&tr.WebhookEndpoint, p.WebhookEndpoint},
		{&tr.WebhookMethod, p.WebhookMethod},
		{&tr.WebhookSecret, p.WebhookSecret},
		{&tr.EventSource, p.EventSource},
		{&tr.EventName, p.EventName},
		{&tr.DataSource, p.DataSource},
		{&tr.DataCondition, p.DataCondition},
	}
	for _, s := range strs {
		if s.v != nil {
			*s.dst = s.v
		}
	}
	if p.NextRunAt != nil {
		tr.NextRunAt = p.NextRunAt
	}
	for _, f := range p.Clear {
		switch f {
		case store.TriggerFieldWorkflowID:
			tr.WorkflowID = nil
		case store.TriggerFieldWorkerID:
			tr.WorkerID = nil
		case store.TriggerFieldScheduleFrequency:
			tr.ScheduleFrequency = nil
		case store.TriggerFieldCronExpression:
			tr.CronExpression = nil
		case store.TriggerFieldWebhookEndpoint:
			tr.WebhookEndpoint = nil
		case store.TriggerFieldWebhookMethod:
			tr.WebhookMethod = nil
		case store.TriggerFieldWebhookSecret:
			tr.WebhookSecret = nil
		case store.TriggerFieldEventSource:
			tr.EventSource = nil
		case store.TriggerFieldEventName:
			tr.EventName = nil
		case store.TriggerFieldDataSource:
			tr.DataSource = nil
		case store.TriggerFieldDataCondition:
			tr.DataCondition = nil
		case store.TriggerFieldNextRunAt:
			tr.NextRunAt = nil
		}
	}
	if p.UpdatedBy != "" {
		tr.UpdatedBy = p.UpdatedBy
	}
}

// Workers

type fakeWorkerStore struct {
	mu       sync.Mutex
	workers  map[uuid.UUID]*store.Worker
	installs map[int64]*store.WorkerInstallation
	nextID   int64

	installErr error
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{workers: map[uuid.UUID]*store.Worker{}, installs: map[int64]*store.WorkerInstallation{}}
}

func (f *fakeWorkerStore) CreateWorker(_ context.Context, _ tenant.Context, w *store.Worker) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	saved := *w
	saved.ID = f.nextID
	f.workers[saved.Key] = &saved
	out := saved
	return &out, nil
}

func (f *fakeWorkerStore) GetWorkerByKey(_ context.Context, _ tenant.Context, key uuid.UUID) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[key]
	if !ok {
		return nil, nil
	}
	out := *w
	return &out, nil
}

func (f *fakeWorkerStore) ListWorkers(context.Context, tenant.Context, store.WorkerFilter) ([]*store.Worker, int64, error) {
	return nil, 0, nil
}

func (f *fakeWorkerStore) UpdateWorker(_ context.Context, _ tenant.Context, key uuid.UUID, mutate store.WorkerMutation) (*store.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[key]
	if !ok {
		return nil, nil
	}
	current := *w
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.Scope != nil {
		w.Scope = *p.Scope
		w.ScopeRef = p.ScopeRef
	}
	out := *w
	return &out, nil
}

func (f *fakeWorkerStore) DeleteWorker(_ context.Context, _ tenant.Context, key uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.workers[key]
	delete(f.workers, key)
	return ok, nil
}

func (f *fakeWorkerStore) CreateWorkerInstallation(_ context.Context, tc tenant.Context, workerKey uuid.UUID, in *store.WorkerInstallation) (*store.WorkerInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return nil, f.installErr
	}
	w, ok := f.workers[workerKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range f.installs {
		if existing.WorkerID == w.ID && existing.FolderKey == tc.FolderKey {
			return nil, uniqueViolation("worker_installations_worker_id_folder_key_key")
		}
	}
	f.nextID++
	saved := *in
	saved.ID = f.nextID
	saved.WorkerID = w.ID
	saved.FolderKey = tc.FolderKey
	f.installs[saved.ID] = &saved
	out := saved
	return &out, nil
}

func (f *fakeWorkerStore) ListWorkerInstallations(context.Context, tenant.Context, store.Page) ([]*store.WorkerInstallation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.WorkerInstallation
	for _, in := range f.installs {
		cp := *in
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeWorkerStore) UpdateWorkerInstallation(_ context.Context, _ tenant.Context, id int64, mutate store.WorkerInstallationMutation) (*store.WorkerInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.installs[id]
	if !ok {
		return nil, nil
	}
	current := *in
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	if p.Priority != nil {
		in.Priority = *p.Priority
	}
	out := *in
	return &out, nil
}

func (f *fakeWorkerStore) DeleteWorkerInstallation(_ context.Context, _ tenant.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.installs[id]
	delete(f.installs, id)
	return ok, nil
}

// Queues

type fakeQueueStore struct {
	mu     sync.Mutex
	queues map[uuid.UUID]*store.Queue
	names  map[string]bool
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{queues: map[uuid.UUID]*store.Queue{}, names: map[string]bool{}}
}

func (f *fakeQueueStore) CreateQueue(_ context.Context, tc tenant.Context, q *store.Queue) (*store.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.names[q.Name] {
		return nil, uniqueViolation("queues_folder_key_name_key")
	}
	f.names[q.Name] = true
	saved := *q
	saved.ID = int64(len(f.queues) + 1)
	saved.FolderKey = tc.FolderKey
	f.queues[saved.Key] = &saved
	out := saved
	return &out, nil
}

func (f *fakeQueueStore) GetQueueByKey(_ context.Context, _ tenant.Context, key uuid.UUID) (*store.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[key]
	if !ok {
		return nil, nil
	}
	out := *q
	return &out, nil
}

func (f *fakeQueueStore) ListQueues(context.Context, tenant.Context, store.QueueFilter) ([]*store.Queue, int64, error) {
	return nil, 0, nil
}

func (f *fakeQueueStore) UpdateQueue(_ context.Context, _ tenant.Context, key uuid.UUID, mutate store.QueueMutation) (*store.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[key]
	if !ok {
		return nil, nil
	}
	current := *q
	p, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	if p.IsActive != nil {
		q.IsActive = *p.IsActive
	}
	if p.Status != nil {
		q.Status = *p.Status
	}
	out := *q
	return &out, nil
}

func (f *fakeQueueStore) DeleteQueue(_ context.Context, _ tenant.Context, key uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.queues[key]
	delete(f.queues, key)
	return ok, nil
}

type fakeSigner struct {
	object  string
	expires time.Time
	err     error
}

func (f *fakeSigner) SignedURL(_ context.Context, objectName string, expires time.Time) (string, error) {
	f.object = objectName
	f.expires = expires
	if f.err != nil {
		return "", f.err
	}
	return "https://downloads.example.com/" + objectName, nil
}

var (
	_ store.JobStore       = (*fakeJobStore)(nil)
	_ store.QueueItemStore = (*fakeQueueItemStore)(nil)
	_ store.QueueStore     = (*fakeQueueStore)(nil)
	_ store.TriggerStore   = (*fakeTriggerStore)(nil)
	_ store.WorkerStore    = (*fakeWorkerStore)(nil)
	_ DownloadSigner       = (*fakeSigner)(nil)
)
