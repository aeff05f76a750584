package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

const jobColumns = `id, key, folder_key, name, worker_key, flow_key, status, description, parameters, result, progress, duration, started_at, completed_at, error, created_by, updated_by, created_at, updated_at`

type jobRepo struct {
	q store.Querier
}

func newJobRepo(q store.Querier) *jobRepo {
	return &jobRepo{q: q}
}

func scanJob(row store.Row) (*store.Job, error) {
	var j store.Job
	var params, result []byte
	err := row.Scan(
		&j.ID, &j.Key, &j.FolderKey, &j.Name, &j.WorkerKey, &j.FlowKey,
		&j.Status, &j.Description, &params, &result, &j.Progress, &j.Duration,
		&j.StartedAt, &j.CompletedAt, &j.Error,
		&j.CreatedBy, &j.UpdatedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if j.Parameters, err = decodeJSON(params); err != nil {
		return nil, err
	}
	if j.Result, err = decodeJSON(result); err != nil {
		return nil, err
	}
	return &j, nil
}

func jobAssignments(p store.JobPatch) ([]assignment, error) {
	var set []assignment
	if p.Name != nil {
		set = append(set, assignment{"name", *p.Name})
	}
	if p.Description != nil {
		set = append(set, assignment{"description", *p.Description})
	}
	if p.WorkerKey != nil {
		set = append(set, assignment{"worker_key", *p.WorkerKey})
	}
	if p.FlowKey != nil {
		set = append(set, assignment{"flow_key", *p.FlowKey})
	}
	if p.Status != nil {
		set = append(set, assignment{"status", string(*p.Status)})
	}
	var err error
	if set, err = jsonAssignment(set, "parameters", p.Parameters); err != nil {
		return nil, err
	}
	if set, err = jsonAssignment(set, "result", p.Result); err != nil {
		return nil, err
	}
	if p.Progress != nil {
		set = append(set, assignment{"progress", *p.Progress})
	}
	if p.Duration != nil {
		set = append(set, assignment{"duration", *p.Duration})
	}
	if p.StartedAt != nil {
		set = append(set, assignment{"started_at", *p.StartedAt})
	}
	if p.CompletedAt != nil {
		set = append(set, assignment{"completed_at", *p.CompletedAt})
	}
	if p.Error != nil {
		set = append(set, assignment{"error", *p.Error})
	}
	if p.UpdatedBy != "" {
		set = append(set, assignment{"updated_by", p.UpdatedBy})
	}
	return set, nil
}

func (r *jobRepo) insert(ctx context.Context, job *store.Job) (*store.Job, error) {
	params, err := jsonObject(job.Parameters)
	if err != nil {
		return nil, err
	}
	result, err := jsonNullable(job.Result)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO jobs (key, name, worker_key, flow_key, status, description, parameters, result, progress, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + jobColumns

	return scanJob(r.q.QueryRowContext(ctx, query,
		job.Key, job.Name, job.WorkerKey, job.FlowKey, job.Status, job.Description,
		params, result, job.Progress, job.CreatedBy, job.UpdatedBy,
	))
}

func (r *jobRepo) getByKey(ctx context.Context, key uuid.UUID) (*store.Job, error) {
	job, err := scanJob(r.q.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (r *jobRepo) list(ctx context.Context, filter store.JobFilter) ([]*store.Job, int64, error) {
	var w where
	if filter.Status != nil {
		w.add("status = %[1]s", string(*filter.Status))
	}
	if filter.WorkerKey != nil {
		w.add("worker_key = %[1]s", *filter.WorkerKey)
	}
	if filter.Search != "" {
		w.add("(name ILIKE %[1]s OR description ILIKE %[1]s)", likePattern(filter.Search))
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	suffix, args := w.paged("created_at DESC, id DESC", filter.Page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (r *jobRepo) update(ctx context.Context, key uuid.UUID, patch store.JobPatch) (*store.Job, error) {
	set, err := jobAssignments(patch)
	if err != nil {
		return nil, err
	}
	query, args := buildUpdate("jobs", "key", key, set, jobColumns)
	job, err := scanJob(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (r *jobRepo) delete(ctx context.Context, key uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM jobs WHERE key = $1", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *jobRepo) stats(ctx context.Context) (*store.JobStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(AVG(duration) FILTER (WHERE duration IS NOT NULL), 0)
		FROM jobs
	`
	var st store.JobStats
	err := r.q.QueryRowContext(ctx, query).Scan(
		&st.Total, &st.Pending, &st.Running, &st.Completed, &st.Failed, &st.AverageDuration,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, tc tenant.Context, job *store.Job) (*store.Job, error) {
	return WithSession(ctx, s, tc, newJobRepo, func(r *jobRepo) (*store.Job, error) {
		return r.insert(ctx, job)
	})
}

func (s *Store) GetJobByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*store.Job, error) {
	return WithSession(ctx, s, tc, newJobRepo, func(r *jobRepo) (*store.Job, error) {
		return r.getByKey(ctx, key)
	})
}

// ListJobs returns one page of jobs and the total matching the filter.
func (s *Store) ListJobs(ctx context.Context, tc tenant.Context, filter store.JobFilter) ([]*store.Job, int64, error) {
	type page struct {
		jobs  []*store.Job
		total int64
	}
	p, err := WithSession(ctx, s, tc, newJobRepo, func(r *jobRepo) (page, error) {
		jobs, total, err := r.list(ctx, filter)
		return page{jobs, total}, err
	})
	return p.jobs, p.total, err
}

// UpdateJob locks the job, lets mutate derive the patch from the current row
// and applies it in the same transaction.
func (s *Store) UpdateJob(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate store.JobMutation) (*store.Job, error) {
	return WithTransaction(ctx, s, tc, newJobRepo, func(r *jobRepo) (*store.Job, error) {
		found, err := lockEntity(ctx, r.q, "jobs", "key", key)
		if err != nil || !found {
			return nil, err
		}
		current, err := r.getByKey(ctx, key)
		if err != nil || current == nil {
			return nil, err
		}
		patch, err := mutate(current)
		if err != nil {
			return nil, err
		}
		return r.update(ctx, key, patch)
	})
}

func (s *Store) DeleteJob(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error) {
	return WithSession(ctx, s, tc, newJobRepo, func(r *jobRepo) (bool, error) {
		return r.delete(ctx, key)
	})
}

func (s *Store) JobStats(ctx context.Context, tc tenant.Context) (*store.JobStats, error) {
	return WithSession(ctx, s, tc, newJobRepo, func(r *jobRepo) (*store.JobStats, error) {
		return r.stats(ctx)
	})
}
