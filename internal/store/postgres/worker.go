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

const workerColumns = `id, key, name, description, scope, scope_ref, created_by, updated_by, created_at, updated_at`

const installationColumns = `id, worker_id, folder_key, priority, default_version, settings, parameters, options, created_by, updated_by, created_at, updated_at`

type workerRepo struct {
	q store.Querier
}

func newWorkerRepo(q store.Querier) *workerRepo {
	return &workerRepo{q: q}
}

func scanWorker(row store.Row) (*store.Worker, error) {
	var w store.Worker
	err := row.Scan(
		&w.ID, &w.Key, &w.Name, &w.Description, &w.Scope, &w.ScopeRef,
		&w.CreatedBy, &w.UpdatedBy, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanInstallation(row store.Row) (*store.WorkerInstallation, error) {
	var in store.WorkerInstallation
	var settings, params, options []byte
	err := row.Scan(
		&in.ID, &in.WorkerID, &in.FolderKey, &in.Priority, &in.DefaultVersion,
		&settings, &params, &options,
		&in.CreatedBy, &in.UpdatedBy, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if in.Settings, err = decodeJSON(settings); err != nil {
		return nil, err
	}
	if in.Parameters, err = decodeJSON(params); err != nil {
		return nil, err
	}
	if in.Options, err = decodeJSON(options); err != nil {
		return nil, err
	}
	return &in, nil
}

func workerAssignments(p store.WorkerPatch) []assignment {
	var set []assignment
	if p.Name != nil {
		set = append(set, assignment{"name", *p.Name})
	}
	if p.Description != nil {
		set = append(set, assignment{"description", *p.Description})
	}
	if p.Scope != nil {
		set = append(set, assignment{"scope", string(*p.Scope)}, assignment{"scope_ref", p.ScopeRef})
	}
	if p.UpdatedBy != "" {
		set = append(set, assignment{"updated_by", p.UpdatedBy})
	}
	return set
}

func installationAssignments(p store.WorkerInstallationPatch) ([]assignment, error) {
	var set []assignment
	if p.Priority != nil {
		set = append(set, assignment{"priority", *p.Priority})
	}
	if p.DefaultVersion != nil {
		set = append(set, assignment{"default_version", *p.DefaultVersion})
	}
	var err error
	if set, err = jsonAssignment(set, "settings", p.Settings); err != nil {
		return nil, err
	}
	if set, err = jsonAssignment(set, "parameters", p.Parameters); err != nil {
		return nil, err
	}
	if set, err = jsonAssignment(set, "options", p.Options); err != nil {
		return nil, err
	}
	if p.UpdatedBy != "" {
		set = append(set, assignment{"updated_by", p.UpdatedBy})
	}
	return set, nil
}

func (r *workerRepo) insert(ctx context.Context, w *store.Worker) (*store.Worker, error) {
	query := `
		INSERT INTO workers (key, name, description, scope, scope_ref, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + workerColumns

	return scanWorker(r.q.QueryRowContext(ctx, query,
		w.Key, w.Name, w.Description, w.Scope, w.ScopeRef, w.CreatedBy, w.UpdatedBy,
	))
}

func (r *workerRepo) getByKey(ctx context.Context, key uuid.UUID) (*store.Worker, error) {
	w, err := scanWorker(r.q.QueryRowContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (r *workerRepo) list(ctx context.Context, filter store.WorkerFilter) ([]*store.Worker, int64, error) {
	var w where
	if filter.Scope != nil {
		w.add("scope = %[1]s", string(*filter.Scope))
	}
	if filter.Search != "" {
		w.add("(name ILIKE %[1]s OR description ILIKE %[1]s)", likePattern(filter.Search))
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM workers"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workers: %w", err)
	}

	suffix, args := w.paged("name ASC, id", filter.Page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+workerColumns+" FROM workers"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	workers := []*store.Worker{}
	for rows.Next() {
		wk, err := scanWorker(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, wk)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return workers, total, nil
}

func (r *workerRepo) update(ctx context.Context, key uuid.UUID, patch store.WorkerPatch) (*store.Worker, error) {
	query, args := buildUpdate("workers", "key", key, workerAssignments(patch), workerColumns)
	w, err := scanWorker(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (r *workerRepo) delete(ctx context.Context, key uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM workers WHERE key = $1", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// install resolves the worker through the visibility policies, so a worker
// outside the caller's scope reads as missing.
func (r *workerRepo) install(ctx context.Context, workerKey uuid.UUID, in *store.WorkerInstallation) (*store.WorkerInstallation, error) {
	settings, err := jsonObject(in.Settings)
	if err != nil {
		return nil, err
	}
	params, err := jsonObject(in.Parameters)
	if err != nil {
		return nil, err
	}
	options, err := jsonObject(in.Options)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO worker_installations (worker_id, priority, default_version, settings, parameters, options, created_by, updated_by)
		SELECT w.id, $2, $3, $4, $5, $6, $7, $8 FROM workers w WHERE w.key = $1
		RETURNING ` + installationColumns

	created, err := scanInstallation(r.q.QueryRowContext(ctx, query,
		workerKey, in.Priority, in.DefaultVersion, settings, params, options, in.CreatedBy, in.UpdatedBy,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return created, err
}

func (r *workerRepo) getInstallation(ctx context.Context, id int64) (*store.WorkerInstallation, error) {
	in, err := scanInstallation(r.q.QueryRowContext(ctx, "SELECT "+installationColumns+" FROM worker_installations WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

func (r *workerRepo) listInstallations(ctx context.Context, page store.Page) ([]*store.WorkerInstallation, int64, error) {
	var w where
	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM worker_installations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count installations: %w", err)
	}

	suffix, args := w.paged("priority DESC, id", page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+installationColumns+" FROM worker_installations"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	installs := []*store.WorkerInstallation{}
	for rows.Next() {
		in, err := scanInstallation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan installation: %w", err)
		}
		installs = append(installs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return installs, total, nil
}

func (r *workerRepo) updateInstallation(ctx context.Context, id int64, patch store.WorkerInstallationPatch) (*store.WorkerInstallation, error) {
	set, err := installationAssignments(patch)
	if err != nil {
		return nil, err
	}
	query, args := buildUpdate("worker_installations", "id", id, set, installationColumns)
	in, err := scanInstallation(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

func (r *workerRepo) deleteInstallation(ctx context.Context, id int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM worker_installations WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) CreateWorker(ctx context.Context, tc tenant.Context, worker *store.Worker) (*store.Worker, error) {
	return WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (*store.Worker, error) {
		return r.insert(ctx, worker)
	})
}

func (s *Store) GetWorkerByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*store.Worker, error) {
	return WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (*store.Worker, error) {
		return r.getByKey(ctx, key)
	})
}

func (s *Store) ListWorkers(ctx context.Context, tc tenant.Context, filter store.WorkerFilter) ([]*store.Worker, int64, error) {
	type page struct {
		workers []*store.Worker
		total   int64
	}
	p, err := WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (page, error) {
		workers, total, err := r.list(ctx, filter)
		return page{workers, total}, err
	})
	return p.workers, p.total, err
}

func (s *Store) UpdateWorker(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate store.WorkerMutation) (*store.Worker, error) {
	return WithTransaction(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (*store.Worker, error) {
		found, err := lockEntity(ctx, r.q, "workers", "key", key)
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

func (s *Store) DeleteWorker(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error) {
	return WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (bool, error) {
		return r.delete(ctx, key)
	})
}

func (s *Store) CreateWorkerInstallation(ctx context.Context, tc tenant.Context, workerKey uuid.UUID, inst *store.WorkerInstallation) (*store.WorkerInstallation, error) {
	return WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (*store.WorkerInstallation, error) {
		return r.install(ctx, workerKey, inst)
	})
}

func (s *Store) ListWorkerInstallations(ctx context.Context, tc tenant.Context, page store.Page) ([]*store.WorkerInstallation, int64, error) {
	type result struct {
		installs []*store.WorkerInstallation
		total    int64
	}
	res, err := WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (result, error) {
		installs, total, err := r.listInstallations(ctx, page)
		return result{installs, total}, err
	})
	return res.installs, res.total, err
}

func (s *Store) UpdateWorkerInstallation(ctx context.Context, tc tenant.Context, id int64, mutate store.WorkerInstallationMutation) (*store.WorkerInstallation, error) {
	return WithTransaction(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (*store.WorkerInstallation, error) {
		found, err := lockEntity(ctx, r.q, "worker_installations", "id", id)
		if err != nil || !found {
			return nil, err
		}
		current, err := r.getInstallation(ctx, id)
		if err != nil || current == nil {
			return nil, err
		}
		patch, err := mutate(current)
		if err != nil {
			return nil, err
		}
		return r.updateInstallation(ctx, id, patch)
	})
}

func (s *Store) DeleteWorkerInstallation(ctx context.Context, tc tenant.Context, id int64) (bool, error) {
	return WithSession(ctx, s, tc, newWorkerRepo, func(r *workerRepo) (bool, error) {
		return r.deleteInstallation(ctx, id)
	})
}

var (
	_ store.JobStore       = (*Store)(nil)
	_ store.QueueItemStore = (*Store)(nil)
	_ store.QueueStore     = (*Store)(nil)
	_ store.TriggerStore   = (*Store)(nil)
	_ store.WorkerStore    = (*Store)(nil)
)
