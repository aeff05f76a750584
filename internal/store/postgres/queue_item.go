package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/lib/pq"
)

const queueItemColumns = `id, folder_key, queue_id, job_id, job_name, worker_id, worker_name, worker_version, status, payload, result, error_message, attempts, max_attempts, priority, tags, metadata, processing_time, started_at, finished_at, created_at, updated_at`

// retryQueueItemSQL moves an item back to waiting and counts the attempt in
// one statement so concurrent retries cannot lose an increment.
const retryQueueItemSQL = `
	UPDATE queue_items
	SET attempts = attempts + 1,
		status = 'waiting',
		started_at = NULL,
		finished_at = NULL,
		error_message = NULL,
		processing_time = NULL,
		result = NULL,
		updated_at = NOW()
	WHERE id = $1
	RETURNING ` + queueItemColumns

type queueItemRepo struct {
	q store.Querier
}

func newQueueItemRepo(q store.Querier) *queueItemRepo {
	return &queueItemRepo{q: q}
}

func scanQueueItem(row store.Row) (*store.QueueItem, error) {
	var it store.QueueItem
	var payload, result, metadata []byte
	err := row.Scan(
		&it.ID, &it.FolderKey, &it.QueueID, &it.JobID, &it.JobName,
		&it.WorkerID, &it.WorkerName, &it.WorkerVersion, &it.Status,
		&payload, &result, &it.ErrorMessage, &it.Attempts, &it.MaxAttempts,
		&it.Priority, pq.Array(&it.Tags), &metadata, &it.ProcessingTime,
		&it.StartedAt, &it.FinishedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if it.Payload, err = decodeJSON(payload); err != nil {
		return nil, err
	}
	if it.Result, err = decodeJSON(result); err != nil {
		return nil, err
	}
	if it.Metadata, err = decodeJSON(metadata); err != nil {
		return nil, err
	}
	if it.Tags == nil {
		it.Tags = []string{}
	}
	return &it, nil
}

func queueItemAssignments(p store.QueueItemPatch) ([]assignment, error) {
	var set []assignment
	if p.Status != nil {
		set = append(set, assignment{"status", string(*p.Status)})
	}
	if p.JobName != nil {
		set = append(set, assignment{"job_name", *p.JobName})
	}
	if p.WorkerID != nil {
		set = append(set, assignment{"worker_id", *p.WorkerID})
	}
	if p.WorkerName != nil {
		set = append(set, assignment{"worker_name", *p.WorkerName})
	}
	if p.WorkerVersion != nil {
		set = append(set, assignment{"worker_version", *p.WorkerVersion})
	}
	var err error
	if set, err = jsonAssignment(set, "payload", p.Payload); err != nil {
		return nil, err
	}
	if set, err = jsonAssignment(set, "result", p.Result); err != nil {
		return nil, err
	}
	if p.ErrorMessage != nil {
		set = append(set, assignment{"error_message", *p.ErrorMessage})
	}
	if p.MaxAttempts != nil {
		set = append(set, assignment{"max_attempts", *p.MaxAttempts})
	}
	if p.Priority != nil {
		set = append(set, assignment{"priority", *p.Priority})
	}
	if p.Tags != nil {
		set = append(set, assignment{"tags", pq.Array(p.Tags)})
	}
	if set, err = jsonAssignment(set, "metadata", p.Metadata); err != nil {
		return nil, err
	}
	if p.ProcessingTime != nil {
		set = append(set, assignment{"processing_time", *p.ProcessingTime})
	}
	if p.StartedAt != nil {
		set = append(set, assignment{"started_at", *p.StartedAt})
	}
	if p.FinishedAt != nil {
		set = append(set, assignment{"finished_at", *p.FinishedAt})
	}
	return set, nil
}

// queueItemWhere builds the predicates shared by the page and count queries.
func queueItemWhere(filter store.QueueItemFilter) where {
	var w where
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(%[1]s)", pq.Array(statuses))
	}
	if filter.QueueID != nil {
		w.add("queue_id = %[1]s", *filter.QueueID)
	}
	if filter.WorkerID != nil {
		w.add("worker_id = %[1]s", *filter.WorkerID)
	}
	if filter.JobID != nil {
		w.add("job_id = %[1]s", *filter.JobID)
	}
	if filter.From != nil {
		w.add("created_at >= %[1]s", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at <= %[1]s", *filter.To)
	}
	if filter.Search != "" {
		w.add("(job_id ILIKE %[1]s OR job_name ILIKE %[1]s OR worker_name ILIKE %[1]s)", likePattern(filter.Search))
	}
	return w
}

func (r *queueItemRepo) insert(ctx context.Context, it *store.QueueItem) (*store.QueueItem, error) {
	payload, err := jsonObject(it.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := jsonObject(it.Metadata)
	if err != nil {
		return nil, err
	}
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO queue_items (queue_id, job_id, job_name, worker_id, worker_name, worker_version, status, payload, max_attempts, priority, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + queueItemColumns

	return scanQueueItem(r.q.QueryRowContext(ctx, query,
		it.QueueID, it.JobID, it.JobName, it.WorkerID, it.WorkerName, it.WorkerVersion,
		it.Status, payload, it.MaxAttempts, it.Priority, pq.Array(tags), metadata,
	))
}

func (r *queueItemRepo) get(ctx context.Context, id int64) (*store.QueueItem, error) {
	it, err := scanQueueItem(r.q.QueryRowContext(ctx, "SELECT "+queueItemColumns+" FROM queue_items WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (r *queueItemRepo) count(ctx context.Context, w where) (int64, error) {
	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items"+w.clause(), w.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return total, nil
}

func (r *queueItemRepo) list(ctx context.Context, filter store.QueueItemFilter) ([]*store.QueueItem, int64, error) {
	w := queueItemWhere(filter)
	total, err := r.count(ctx, w)
	if err != nil {
		return nil, 0, err
	}

	suffix, args := w.paged("priority DESC, created_at ASC, id ASC", filter.Page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+queueItemColumns+" FROM queue_items"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := []*store.QueueItem{}
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *queueItemRepo) update(ctx context.Context, id int64, patch store.QueueItemPatch) (*store.QueueItem, error) {
	set, err := queueItemAssignments(patch)
	if err != nil {
		return nil, err
	}
	query, args := buildUpdate("queue_items", "id", id, set, queueItemColumns)
	it, err := scanQueueItem(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (r *queueItemRepo) retry(ctx context.Context, id int64) (*store.QueueItem, error) {
	it, err := scanQueueItem(r.q.QueryRowContext(ctx, retryQueueItemSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (r *queueItemRepo) delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM queue_items WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *queueItemRepo) stats(ctx context.Context, queueID *int64) (*store.QueueItemStats, error) {
	var w where
	if queueID != nil {
		w.add("queue_id = %[1]s", *queueID)
	}
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM queue_items` + w.clause()

	var st store.QueueItemStats
	err := r.q.QueryRowContext(ctx, query, w.args...).Scan(
		&st.Total, &st.Waiting, &st.Processing, &st.Completed, &st.Error, &st.Cancelled,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreateQueueItem(ctx context.Context, tc tenant.Context, item *store.QueueItem) (*store.QueueItem, error) {
	return WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (*store.QueueItem, error) {
		return r.insert(ctx, item)
	})
}

func (s *Store) GetQueueItem(ctx context.Context, tc tenant.Context, id int64) (*store.QueueItem, error) {
	return WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (*store.QueueItem, error) {
		return r.get(ctx, id)
	})
}

// ListQueueItems returns one page and the total. Both queries run on the
// same connection with the same predicates.
func (s *Store) ListQueueItems(ctx context.Context, tc tenant.Context, filter store.QueueItemFilter) ([]*store.QueueItem, int64, error) {
	type page struct {
		items []*store.QueueItem
		total int64
	}
	p, err := WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (page, error) {
		items, total, err := r.list(ctx, filter)
		return page{items, total}, err
	})
	return p.items, p.total, err
}

func (s *Store) CountQueueItems(ctx context.Context, tc tenant.Context, filter store.QueueItemFilter) (int64, error) {
	return WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (int64, error) {
		return r.count(ctx, queueItemWhere(filter))
	})
}

func (s *Store) UpdateQueueItem(ctx context.Context, tc tenant.Context, id int64, mutate store.QueueItemMutation) (*store.QueueItem, error) {
	return WithTransaction(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (*store.QueueItem, error) {
		found, err := lockEntity(ctx, r.q, "queue_items", "id", id)
		if err != nil || !found {
			return nil, err
		}
		current, err := r.get(ctx, id)
		if err != nil || current == nil {
			return nil, err
		}
		patch, err := mutate(current)
		if err != nil {
			return nil, err
		}
		return r.update(ctx, id, patch)
	})
}

func (s *Store) RetryQueueItem(ctx context.Context, tc tenant.Context, id int64, check func(*store.QueueItem) error) (*store.QueueItem, error) {
	return WithTransaction(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (*store.QueueItem, error) {
		found, err := lockEntity(ctx, r.q, "queue_items", "id", id)
		if err != nil || !found {
			return nil, err
		}
		current, err := r.get(ctx, id)
		if err != nil || current == nil {
			return nil, err
		}
		if err := check(current); err != nil {
			return nil, err
		}
		return r.retry(ctx, id)
	})
}

func (s *Store) DeleteQueueItem(ctx context.Context, tc tenant.Context, id int64) (bool, error) {
	return WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (bool, error) {
		return r.delete(ctx, id)
	})
}

func (s *Store) QueueItemStats(ctx context.Context, tc tenant.Context, queueID *int64) (*store.QueueItemStats, error) {
	return WithSession(ctx, s, tc, newQueueItemRepo, func(r *queueItemRepo) (*store.QueueItemStats, error) {
		return r.stats(ctx, queueID)
	})
}
