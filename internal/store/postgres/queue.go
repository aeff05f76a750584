package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const queueColumns = `id, key, folder_key, name, description, concurrency, retry_limit, retry_delay, priority, is_active, status, tags, metadata, created_by, updated_by, created_at, updated_at`

type queueRepo struct {
	q store.Querier
}

func newQueueRepo(q store.Querier) *queueRepo {
	return &queueRepo{q: q}
}

func scanQueue(row store.Row) (*store.Queue, error) {
	var qu store.Queue
	var metadata []byte
	err := row.Scan(
		&qu.ID, &qu.Key, &qu.FolderKey, &qu.Name, &qu.Description,
		&qu.Concurrency, &qu.RetryLimit, &qu.RetryDelay, &qu.Priority,
		&qu.IsActive, &qu.Status, pq.Array(&qu.Tags), &metadata,
		&qu.CreatedBy, &qu.UpdatedBy, &qu.CreatedAt, &qu.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if qu.Metadata, err = decodeJSON(metadata); err != nil {
		return nil, err
	}
	if qu.Tags == nil {
		qu.Tags = []string{}
	}
	return &qu, nil
}

func queueAssignments(p store.QueuePatch) ([]assignment, error) {
	var set []assignment
	if p.Name != nil {
		set = append(set, assignment{"name", *p.Name})
	}
	if p.Description != nil {
		set = append(set, assignment{"description", *p.Description})
	}
	if p.Concurrency != nil {
		set = append(set, assignment{"concurrency", *p.Concurrency})
	}
	if p.RetryLimit != nil {
		set = append(set, assignment{"retry_limit", *p.RetryLimit})
	}
	if p.RetryDelay != nil {
		set = append(set, assignment{"retry_delay", *p.RetryDelay})
	}
	if p.Priority != nil {
		set = append(set, assignment{"priority", *p.Priority})
	}
	if p.IsActive != nil {
		set = append(set, assignment{"is_active", *p.IsActive})
	}
	if p.Status != nil {
		set = append(set, assignment{"status", string(*p.Status)})
	}
	if p.Tags != nil {
		set = append(set, assignment{"tags", pq.Array(p.Tags)})
	}
	set, err := jsonAssignment(set, "metadata", p.Metadata)
	if err != nil {
		return nil, err
	}
	if p.UpdatedBy != "" {
		set = append(set, assignment{"updated_by", p.UpdatedBy})
	}
	return set, nil
}

func (r *queueRepo) insert(ctx context.Context, qu *store.Queue) (*store.Queue, error) {
	metadata, err := jsonObject(qu.Metadata)
	if err != nil {
		return nil, err
	}
	tags := qu.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO queues (key, name, description, concurrency, retry_limit, retry_delay, priority, is_active, status, tags, metadata, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + queueColumns

	return scanQueue(r.q.QueryRowContext(ctx, query,
		qu.Key, qu.Name, qu.Description, qu.Concurrency, qu.RetryLimit, qu.RetryDelay,
		qu.Priority, qu.IsActive, qu.Status, pq.Array(tags), metadata, qu.CreatedBy, qu.UpdatedBy,
	))
}

func (r *queueRepo) getByKey(ctx context.Context, key uuid.UUID) (*store.Queue, error) {
	qu, err := scanQueue(r.q.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM queues WHERE key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return qu, err
}

func (r *queueRepo) list(ctx context.Context, filter store.QueueFilter) ([]*store.Queue, int64, error) {
	var w where
	if filter.Status != nil {
		w.add("status = %[1]s", string(*filter.Status))
	}
	if filter.IsActive != nil {
		w.add("is_active = %[1]s", *filter.IsActive)
	}
	if filter.Search != "" {
		w.add("(name ILIKE %[1]s OR description ILIKE %[1]s)", likePattern(filter.Search))
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM queues"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queues: %w", err)
	}

	suffix, args := w.paged("priority DESC, name ASC", filter.Page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+queueColumns+" FROM queues"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	queues := []*store.Queue{}
	for rows.Next() {
		qu, err := scanQueue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, qu)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return queues, total, nil
}

func (r *queueRepo) update(ctx context.Context, key uuid.UUID, patch store.QueuePatch) (*store.Queue, error) {
	set, err := queueAssignments(patch)
	if err != nil {
		return nil, err
	}
	query, args := buildUpdate("queues", "key", key, set, queueColumns)
	qu, err := scanQueue(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return qu, err
}

func (r *queueRepo) delete(ctx context.Context, key uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM queues WHERE key = $1", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) CreateQueue(ctx context.Context, tc tenant.Context, queue *store.Queue) (*store.Queue, error) {
	return WithSession(ctx, s, tc, newQueueRepo, func(r *queueRepo) (*store.Queue, error) {
		return r.insert(ctx, queue)
	})
}

func (s *Store) GetQueueByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) (*store.Queue, error) {
	return WithSession(ctx, s, tc, newQueueRepo, func(r *queueRepo) (*store.Queue, error) {
		return r.getByKey(ctx, key)
	})
}

func (s *Store) ListQueues(ctx context.Context, tc tenant.Context, filter store.QueueFilter) ([]*store.Queue, int64, error) {
	type page struct {
		queues []*store.Queue
		total  int64
	}
	p, err := WithSession(ctx, s, tc, newQueueRepo, func(r *queueRepo) (page, error) {
		queues, total, err := r.list(ctx, filter)
		return page{queues, total}, err
	})
	return p.queues, p.total, err
}

func (s *Store) UpdateQueue(ctx context.Context, tc tenant.Context, key uuid.UUID, mutate store.QueueMutation) (*store.Queue, error) {
	return WithTransaction(ctx, s, tc, newQueueRepo, func(r *queueRepo) (*store.Queue, error) {
		found, err := lockEntity(ctx, r.q, "queues", "key", key)
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

func (s *Store) DeleteQueue(ctx context.Context, tc tenant.Context, key uuid.UUID) (bool, error) {
	return WithSession(ctx, s, tc, newQueueRepo, func(r *queueRepo) (bool, error) {
		return r.delete(ctx, key)
	})
}
