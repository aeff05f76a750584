package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

var jobConstraints = ConstraintTable{
	"jobs_key_key": "A job with this key already exists",
}

// CreateJobInput is the payload for JobService.Create.
type CreateJobInput struct {
	Name        string           `json:"name"`
	WorkerKey   string           `json:"workerKey"`
	FlowKey     *string          `json:"flowKey"`
	Status      *store.JobStatus `json:"status"`
	Description string           `json:"description"`
	Parameters  map[string]any   `json:"parameters"`
	Progress    *int             `json:"progress"`
}

// UpdateJobInput is a partial job update. Absent fields are left unchanged.
type UpdateJobInput struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	WorkerKey   *string          `json:"workerKey"`
	FlowKey     *string          `json:"flowKey"`
	Status      *store.JobStatus `json:"status"`
	Parameters  map[string]any   `json:"parameters"`
	Result      map[string]any   `json:"result"`
	Progress    *int             `json:"progress"`
	Duration    *int64           `json:"duration"`
	StartedAt   *time.Time       `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt"`
	Error       *string          `json:"error"`
}

// JobService runs the job lifecycle.
type JobService struct {
	store store.JobStore
	log   *slog.Logger
	tr    translator
	now   func() time.Time
}

func NewJobService(s store.JobStore, log *slog.Logger) *JobService {
	log = log.With("service", "job")
	return &JobService{
		store: s,
		log:   log,
		tr:    newTranslator(log, jobConstraints, "Job not found"),
		now:   time.Now,
	}
}

func (s *JobService) Create(ctx context.Context, tc tenant.Context, in CreateJobInput, user string) Response[*store.Job] {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.WorkerKey) == "" {
		return fail[*store.Job](ctx, s.tr, "job.create", ruleErrorf("Job name and workerKey are required"))
	}
	if err := validateJobFields(in.Status, in.Progress); err != nil {
		return fail[*store.Job](ctx, s.tr, "job.create", err)
	}

	job := &store.Job{
		Key:         uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		WorkerKey:   strings.TrimSpace(in.WorkerKey),
		FlowKey:     in.FlowKey,
		Status:      store.JobStatusPending,
		Description: in.Description,
		Parameters:  in.Parameters,
		CreatedBy:   actor(user),
		UpdatedBy:   actor(user),
	}
	if in.Status != nil {
		job.Status = *in.Status
	}
	if in.Progress != nil {
		job.Progress = *in.Progress
	}

	saved, err := s.store.CreateJob(ctx, tc, job)
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.create", err)
	}
	s.log.InfoContext(ctx, "job created", "key", saved.Key, "worker_key", saved.WorkerKey)
	return created("Job created successfully", saved)
}

func (s *JobService) GetByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[*store.Job] {
	job, err := s.store.GetJobByKey(ctx, tc, key)
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.get", err)
	}
	if job == nil {
		return notFound[*store.Job](ctx, s.tr, "job.get")
	}
	return ok("Job retrieved successfully", job)
}

func (s *JobService) GetAll(ctx context.Context, tc tenant.Context, filter store.JobFilter) Response[Paged[*store.Job]] {
	if filter.Status != nil && !filter.Status.Valid() {
		return fail[Paged[*store.Job]](ctx, s.tr, "job.list", ruleErrorf("Invalid job status %q", *filter.Status))
	}
	jobs, total, err := s.store.ListJobs(ctx, tc, filter)
	if err != nil {
		return fail[Paged[*store.Job]](ctx, s.tr, "job.list", err)
	}
	return ok("Jobs retrieved successfully", newPaged(jobs, total, filter.Page))
}

// Update applies a partial update. A status change fills in the derived
// timestamps, progress and duration the caller did not supply.
func (s *JobService) Update(ctx context.Context, tc tenant.Context, key uuid.UUID, in UpdateJobInput, user string) Response[*store.Job] {
	if err := validateJobFields(in.Status, in.Progress); err != nil {
		return fail[*store.Job](ctx, s.tr, "job.update", err)
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return fail[*store.Job](ctx, s.tr, "job.update", ruleErrorf("Job name cannot be empty"))
	}

	patch := store.JobPatch{
		Name:        in.Name,
		Description: in.Description,
		WorkerKey:   in.WorkerKey,
		FlowKey:     in.FlowKey,
		Status:      in.Status,
		Parameters:  in.Parameters,
		Result:      in.Result,
		Progress:    in.Progress,
		Duration:    in.Duration,
		StartedAt:   in.StartedAt,
		CompletedAt: in.CompletedAt,
		Error:       in.Error,
		UpdatedBy:   actor(user),
	}
	now := stamp(s.now)

	job, err := s.store.UpdateJob(ctx, tc, key, func(current *store.Job) (store.JobPatch, error) {
		if in.Status != nil && *in.Status != current.Status && current.Status.Terminal() {
			return store.JobPatch{}, ruleErrorf("Cannot change status of %s job to %s", current.Status, *in.Status)
		}
		p := patch
		if in.Status == nil || *in.Status != current.Status {
			handleStatusChange(current, &p, now)
		}
		return p, nil
	})
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.update", err)
	}
	if job == nil {
		return notFound[*store.Job](ctx, s.tr, "job.update")
	}
	return ok("Job updated successfully", job)
}

func (s *JobService) Delete(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[bool] {
	deleted, err := s.store.DeleteJob(ctx, tc, key)
	if err != nil {
		return fail[bool](ctx, s.tr, "job.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "job.delete")
	}
	return ok("Job deleted successfully", true)
}

// StartJob moves the job to running whatever its current status.
func (s *JobService) StartJob(ctx context.Context, tc tenant.Context, key uuid.UUID, user string) Response[*store.Job] {
	now := stamp(s.now)
	job, err := s.store.UpdateJob(ctx, tc, key, func(*store.Job) (store.JobPatch, error) {
		status := store.JobStatusRunning
		progress := 0
		return store.JobPatch{Status: &status, StartedAt: &now, Progress: &progress, UpdatedBy: actor(user)}, nil
	})
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.start", err)
	}
	if job == nil {
		return notFound[*store.Job](ctx, s.tr, "job.start")
	}
	s.log.InfoContext(ctx, "job started", "key", key)
	return ok("Job started successfully", job)
}

func (s *JobService) CompleteJob(ctx context.Context, tc tenant.Context, key uuid.UUID, result map[string]any, user string) Response[*store.Job] {
	now := stamp(s.now)
	job, err := s.store.UpdateJob(ctx, tc, key, func(current *store.Job) (store.JobPatch, error) {
		status := store.JobStatusCompleted
		progress := 100
		if result == nil {
			result = map[string]any{}
		}
		return store.JobPatch{
			Status:      &status,
			Result:      result,
			Progress:    &progress,
			CompletedAt: &now,
			Duration:    durationSince(current.StartedAt, now),
			UpdatedBy:   actor(user),
		}, nil
	})
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.complete", err)
	}
	if job == nil {
		return notFound[*store.Job](ctx, s.tr, "job.complete")
	}
	s.log.InfoContext(ctx, "job completed", "key", key)
	return ok("Job completed successfully", job)
}

// FailJob marks the job failed. Progress keeps its last value.
func (s *JobService) FailJob(ctx context.Context, tc tenant.Context, key uuid.UUID, message string, user string) Response[*store.Job] {
	now := stamp(s.now)
	job, err := s.store.UpdateJob(ctx, tc, key, func(current *store.Job) (store.JobPatch, error) {
		status := store.JobStatusFailed
		return store.JobPatch{
			Status:      &status,
			Error:       &message,
			CompletedAt: &now,
			Duration:    durationSince(current.StartedAt, now),
			UpdatedBy:   actor(user),
		}, nil
	})
	if err != nil {
		return fail[*store.Job](ctx, s.tr, "job.fail", err)
	}
	if job == nil {
		return notFound[*store.Job](ctx, s.tr, "job.fail")
	}
	s.log.InfoContext(ctx, "job failed", "key", key, "error", message)
	return ok("Job marked as failed", job)
}

func (s *JobService) GetStats(ctx context.Context, tc tenant.Context) Response[*store.JobStats] {
	st, err := s.store.JobStats(ctx, tc)
	if err != nil {
		return fail[*store.JobStats](ctx, s.tr, "job.stats", err)
	}
	return ok("Job statistics retrieved successfully", st)
}

func validateJobFields(status *store.JobStatus, progress *int) error {
	if status != nil && !status.Valid() {
		return ruleErrorf("Invalid job status %q", *status)
	}
	if progress != nil && (*progress < 0 || *progress > 100) {
		return ruleErrorf("Progress must be between 0 and 100")
	}
	return nil
}

// handleStatusChange derives the fields that accompany a status change,
// leaving any value the caller supplied untouched.
func handleStatusChange(current *store.Job, p *store.JobPatch, now time.Time) {
	if p.Status == nil {
		return
	}
	switch *p.Status {
	case store.JobStatusRunning:
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
		if p.Progress == nil {
			progress := 0
			p.Progress = &progress
		}
	case store.JobStatusCompleted:
		if p.Progress == nil {
			progress := 100
			p.Progress = &progress
		}
		fallthrough
	case store.JobStatusFailed:
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
		if p.Duration == nil {
			started := p.StartedAt
			if started == nil {
				started = current.StartedAt
			}
			p.Duration = durationSince(started, *p.CompletedAt)
		}
	}
}
