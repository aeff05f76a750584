package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// bindTenantSQL sets the session values read by the row-level security
// policies. $4 makes the settings transaction-local.
const bindTenantSQL = `SELECT set_config('app.folder_key', $1, $4), set_config('app.tenant_key', $2, $4), set_config('app.organization', $3, $4)`

// resetTenantSQL empties session-level settings before the connection goes
// back to the pool. The policies read an empty setting as no folder.
const resetTenantSQL = `SELECT set_config('app.folder_key', '', false), set_config('app.tenant_key', '', false), set_config('app.organization', '', false)`

const (
	modeSession     = "session"
	modeTransaction = "transaction"
)

// sqlRunner is satisfied by both *sql.Conn and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// boundConn is the store.Querier handed to repositories. The tenant context
// is bound exactly once, right before the first statement, so a unit of work
// that never queries never pays for binding.
type boundConn struct {
	runner sqlRunner
	tc     tenant.Context
	local  bool
	bound  bool
}

func (c *boundConn) bind(ctx context.Context) error {
	if c.bound {
		return nil
	}
	if !c.tc.Valid() {
		return fmt.Errorf("bind tenant context: %w", tenant.ErrMissingFolder)
	}
	_, err := c.runner.ExecContext(ctx, bindTenantSQL,
		c.tc.FolderKey.String(), c.tc.TenantKeyString(), c.tc.Organization, c.local)
	if err != nil {
		return fmt.Errorf("bind tenant context: %w", err)
	}
	c.bound = true
	return nil
}

func (c *boundConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := c.bind(ctx); err != nil {
		return nil, err
	}
	return c.runner.ExecContext(ctx, query, args...)
}

func (c *boundConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := c.bind(ctx); err != nil {
		return nil, err
	}
	return c.runner.QueryContext(ctx, query, args...)
}

func (c *boundConn) QueryRowContext(ctx context.Context, query string, args ...any) store.Row {
	if err := c.bind(ctx); err != nil {
		return errRow{err: err}
	}
	return c.runner.QueryRowContext(ctx, query, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// txConn is a boundConn opened in transaction mode. Tx is the
// transaction-only capability lockEntity looks for.
type txConn struct {
	*boundConn
	tx *sql.Tx
}

func (c *txConn) Tx() *sql.Tx { return c.tx }

type txCapable interface {
	Tx() *sql.Tx
}

// WithSession runs fn on a repository bound to one pooled connection in
// autocommit mode. The connection is released on every exit path.
func WithSession[R, T any](ctx context.Context, s *Store, tc tenant.Context, newRepo func(store.Querier) R, fn func(R) (T, error)) (T, error) {
	var zero T

	ctx, span := s.startSpan(ctx, modeSession, tc)
	defer span.End()

	conn, err := s.acquire(ctx)
	if err != nil {
		s.finish(ctx, span, modeSession, err)
		return zero, err
	}
	q := &boundConn{runner: conn, tc: tc}
	defer func() {
		if q.bound && !s.unbind(ctx, conn) {
			return
		}
		s.release(conn)
	}()

	result, err := fn(newRepo(q))
	s.finish(ctx, span, modeSession, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// WithTransaction runs fn on a repository bound to one pooled connection
// inside BEGIN/COMMIT. Any error from fn rolls back and is returned as is.
func WithTransaction[R, T any](ctx context.Context, s *Store, tc tenant.Context, newRepo func(store.Querier) R, fn func(R) (T, error)) (result T, err error) {
	var zero T

	ctx, span := s.startSpan(ctx, modeTransaction, tc)
	defer span.End()

	conn, err := s.acquire(ctx)
	if err != nil {
		s.finish(ctx, span, modeTransaction, err)
		return zero, err
	}
	defer s.release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("begin transaction: %w", err)
		s.finish(ctx, span, modeTransaction, err)
		return zero, err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", "error", rbErr)
		}
		s.rollbacks.Add(ctx, 1)
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	q := &txConn{boundConn: &boundConn{runner: tx, tc: tc, local: true}, tx: tx}
	if err := q.bind(ctx); err != nil {
		s.finish(ctx, span, modeTransaction, err)
		return zero, err
	}

	result, err = fn(newRepo(q))
	if err != nil {
		s.finish(ctx, span, modeTransaction, err)
		return zero, err
	}

	if err := tx.Commit(); err != nil {
		committed = true
		err = fmt.Errorf("commit transaction: %w", err)
		s.finish(ctx, span, modeTransaction, err)
		return zero, err
	}
	committed = true
	s.finish(ctx, span, modeTransaction, nil)
	return result, nil
}

// lockEntity takes a row-level lock on the row whose keyColumn equals key.
// It only works inside WithTransaction; elsewhere it fails before issuing SQL.
func lockEntity(ctx context.Context, q store.Querier, table, keyColumn string, key any) (bool, error) {
	if _, ok := q.(txCapable); !ok {
		return false, store.ErrNotInTransaction
	}

	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 FOR UPDATE", table, keyColumn)
	err := q.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", table, err)
	}
	return true, nil
}

func (s *Store) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	conn, err := s.db.Conn(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// unbind clears the tenant settings a session left on conn. A connection
// that cannot be cleared is closed instead of returned to the pool, and
// unbind reports false.
func (s *Store) unbind(ctx context.Context, conn *sql.Conn) bool {
	_, err := conn.ExecContext(context.WithoutCancel(ctx), resetTenantSQL)
	if err == nil {
		return true
	}
	s.log.Warn("failed to clear tenant settings, discarding connection", "error", err)
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	return false
}

func (s *Store) release(conn *sql.Conn) {
	if err := conn.Close(); err != nil {
		s.log.Warn("failed to release connection", "error", err)
	}
}

func (s *Store) startSpan(ctx context.Context, mode string, tc tenant.Context) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "postgres."+mode,
		trace.WithAttributes(
			attribute.String("botmaster.folder_key", tc.FolderKey.String()),
			attribute.String("botmaster.organization", tc.Organization),
		),
	)
}

func (s *Store) finish(ctx context.Context, span trace.Span, mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.units.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}
