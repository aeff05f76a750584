package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

const triggerColumns = `id, folder_key, name, description, type, target_type, workflow_id, worker_id, status, is_active, schedule_frequency, cron_expression, webhook_endpoint, webhook_method, webhook_secret, event_source, event_name, data_source, data_condition, last_run_at, next_run_at, execution_count, created_by, updated_by, created_at, updated_at`

const recordExecutionSQL = `
	UPDATE triggers
	SET execution_count = execution_count + 1,
		last_run_at = $1,
		next_run_at = COALESCE($2, next_run_at),
		updated_by = $3,
		updated_at = NOW()
	WHERE id = $4
	RETURNING ` + triggerColumns

type triggerRepo struct {
	q store.Querier
}

func newTriggerRepo(q store.Querier) *triggerRepo {
	return &triggerRepo{q: q}
}

func scanTrigger(row store.Row) (*store.Trigger, error) {
	var tr store.Trigger
	err := row.Scan(
		&tr.ID, &tr.FolderKey, &tr.Name, &tr.Description, &tr.Type, &tr.TargetType,
		&tr.WorkflowID, &tr.WorkerID, &tr.Status, &tr.IsActive,
		&tr.ScheduleFrequency, &tr.CronExpression,
		&tr.WebhookEndpoint, &tr.WebhookMethod, &tr.WebhookSecret,
		&tr.EventSource, &tr.EventName, &tr.DataSource, &tr.DataCondition,
		&tr.LastRunAt, &tr.NextRunAt, &tr.ExecutionCount,
		&tr.CreatedBy, &tr.UpdatedBy, &tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func triggerAssignments(p store.TriggerPatch) []assignment {
	var set []assignment
	str := func(column string, v *string) {
		if v != nil {
			set = append(set, assignment{column, *v})
		}
	}
	str("name", p.Name)
	str("description", p.Description)
	if p.Type != nil {
		set = append(set, assignment{"type", string(*p.Type)})
	}
	if p.TargetType != nil {
		set = append(set, assignment{"target_type", string(*p.TargetType)})
	}
	str("workflow_id", p.WorkflowID)
	str("worker_id", p.WorkerID)
	if p.Status != nil {
		set = append(set, assignment{"status", string(*p.Status)})
	}
	if p.IsActive != nil {
		set = append(set, assignment{"is_active", *p.IsActive})
	}
	str("schedule_frequency", p.ScheduleFrequency)
	str("cron_expression", p.CronExpression)
	str("webhook_endpoint", p.WebhookEndpoint)
	str("webhook_method", p.WebhookMethod)
	str("webhook_secret", p.WebhookSecret)
	str("event_source", p.EventSource)
	str("event_name", p.EventName)
	str("data_source", p.DataSource)
	str("data_condition", p.DataCondition)
	if p.NextRunAt != nil {
		set = append(set, assignment{"next_run_at", *p.NextRunAt})
	}
	for _, f := range p.Clear {
		if column, ok := triggerClearColumns[f]; ok {
			set = append(set, assignment{column, nil})
		}
	}
	if p.UpdatedBy != "" {
		set = append(set, assignment{"updated_by", p.UpdatedBy})
	}
	return set
}

var triggerClearColumns = map[store.TriggerField]string{
	store.TriggerFieldWorkflowID:        "workflow_id",
	store.TriggerFieldWorkerID:          "worker_id",
	store.TriggerFieldScheduleFrequency: "schedule_frequency",
	store.TriggerFieldCronExpression:    "cron_expression",
	store.TriggerFieldWebhookEndpoint:   "webhook_endpoint",
	store.TriggerFieldWebhookMethod:     "webhook_method",
	store.TriggerFieldWebhookSecret:     "webhook_secret",
	store.TriggerFieldEventSource:       "event_source",
	store.TriggerFieldEventName:         "event_name",
	store.TriggerFieldDataSource:        "data_source",
	store.TriggerFieldDataCondition:     "data_condition",
	store.TriggerFieldNextRunAt:         "next_run_at",
}

func (r *triggerRepo) insert(ctx context.Context, tr *store.Trigger) (*store.Trigger, error) {
	query := `
		INSERT INTO triggers (
			id, name, description, type, target_type, workflow_id, worker_id, status, is_active,
			schedule_frequency, cron_expression, webhook_endpoint, webhook_method, webhook_secret,
			event_source, event_name, data_source, data_condition, next_run_at, created_by, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING ` + triggerColumns

	return scanTrigger(r.q.QueryRowContext(ctx, query,
		tr.ID, tr.Name, tr.Description, tr.Type, tr.TargetType, tr.WorkflowID, tr.WorkerID,
		tr.Status, tr.IsActive, tr.ScheduleFrequency, tr.CronExpression,
		tr.WebhookEndpoint, tr.WebhookMethod, tr.WebhookSecret,
		tr.EventSource, tr.EventName, tr.DataSource, tr.DataCondition,
		tr.NextRunAt, tr.CreatedBy, tr.UpdatedBy,
	))
}

func (r *triggerRepo) get(ctx context.Context, id uuid.UUID) (*store.Trigger, error) {
	tr, err := scanTrigger(r.q.QueryRowContext(ctx, "SELECT "+triggerColumns+" FROM triggers WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

func (r *triggerRepo) list(ctx context.Context, filter store.TriggerFilter) ([]*store.Trigger, int64, error) {
	var w where
	if filter.Type != nil {
		w.add("type = %[1]s", string(*filter.Type))
	}
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
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM triggers"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count triggers: %w", err)
	}

	suffix, args := w.paged("created_at DESC, id", filter.Page)
	rows, err := r.q.QueryContext(ctx, "SELECT "+triggerColumns+" FROM triggers"+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	triggers := []*store.Trigger{}
	for rows.Next() {
		tr, err := scanTrigger(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan trigger: %w", err)
		}
		triggers = append(triggers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return triggers, total, nil
}

func (r *triggerRepo) update(ctx context.Context, id uuid.UUID, patch store.TriggerPatch) (*store.Trigger, error) {
	query, args := buildUpdate("triggers", "id", id, triggerAssignments(patch), triggerColumns)
	tr, err := scanTrigger(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

func (r *triggerRepo) recordExecution(ctx context.Context, id uuid.UUID, executedAt time.Time, nextRunAt *time.Time, executedBy string) (*store.Trigger, error) {
	tr, err := scanTrigger(r.q.QueryRowContext(ctx, recordExecutionSQL, executedAt, nextRunAt, executedBy, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

func (r *triggerRepo) delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *triggerRepo) stats(ctx context.Context) (*store.TriggerStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'inactive'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COUNT(*) FILTER (WHERE type = 'schedule'),
			COUNT(*) FILTER (WHERE type = 'webhook'),
			COUNT(*) FILTER (WHERE type = 'event'),
			COUNT(*) FILTER (WHERE type = 'data'),
			COALESCE(SUM(execution_count), 0)
		FROM triggers
	`
	var st store.TriggerStats
	err := r.q.QueryRowContext(ctx, query).Scan(
		&st.Total, &st.Active, &st.Inactive, &st.Error,
		&st.Schedule, &st.Webhook, &st.Event, &st.Data, &st.TotalExecutions,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreateTrigger(ctx context.Context, tc tenant.Context, trigger *store.Trigger) (*store.Trigger, error) {
	return WithSession(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (*store.Trigger, error) {
		return r.insert(ctx, trigger)
	})
}

func (s *Store) GetTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID) (*store.Trigger, error) {
	return WithSession(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (*store.Trigger, error) {
		return r.get(ctx, id)
	})
}

func (s *Store) ListTriggers(ctx context.Context, tc tenant.Context, filter store.TriggerFilter) ([]*store.Trigger, int64, error) {
	type page struct {
		triggers []*store.Trigger
		total    int64
	}
	p, err := WithSession(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (page, error) {
		triggers, total, err := r.list(ctx, filter)
		return page{triggers, total}, err
	})
	return p.triggers, p.total, err
}

func (s *Store) UpdateTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID, mutate store.TriggerMutation) (*store.Trigger, error) {
	return WithTransaction(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (*store.Trigger, error) {
		found, err := lockEntity(ctx, r.q, "triggers", "id", id)
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

// RecordTriggerExecution counts one execution. check sees the locked row and
// may veto the execution or supply the next scheduled run.
func (s *Store) RecordTriggerExecution(ctx context.Context, tc tenant.Context, id uuid.UUID, check func(*store.Trigger) (*time.Time, error), executedAt time.Time, executedBy string) (*store.Trigger, error) {
	return WithTransaction(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (*store.Trigger, error) {
		found, err := lockEntity(ctx, r.q, "triggers", "id", id)
		if err != nil || !found {
			return nil, err
		}
		current, err := r.get(ctx, id)
		if err != nil || current == nil {
			return nil, err
		}
		nextRunAt, err := check(current)
		if err != nil {
			return nil, err
		}
		return r.recordExecution(ctx, id, executedAt, nextRunAt, executedBy)
	})
}

func (s *Store) DeleteTrigger(ctx context.Context, tc tenant.Context, id uuid.UUID) (bool, error) {
	return WithSession(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (bool, error) {
		return r.delete(ctx, id)
	})
}

func (s *Store) TriggerStats(ctx context.Context, tc tenant.Context) (*store.TriggerStats, error) {
	return WithSession(ctx, s, tc, newTriggerRepo, func(r *triggerRepo) (*store.TriggerStats, error) {
		return r.stats(ctx)
	})
}
