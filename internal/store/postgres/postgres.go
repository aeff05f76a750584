// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "botmaster/store/postgres"

// PoolConfig sizes and times the connection pool.
type PoolConfig struct {
	DatabaseURL    string
	MaxOpenConns   int
	MaxIdleConns   int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// Store provides PostgreSQL-backed implementations of all repositories.
// The pool is the only state shared between units of work.
type Store struct {
	db             *sql.DB
	acquireTimeout time.Duration
	log            *slog.Logger

	tracer    trace.Tracer
	units     metric.Int64Counter
	rollbacks metric.Int64Counter
}

// New opens the pool, checks connectivity and registers pool gauges.
func New(ctx context.Context, cfg PoolConfig, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := newStore(db, cfg.AcquireTimeout, log)
	if err := s.registerPoolMetrics(); err != nil {
		log.Warn("failed to register pool metrics", "error", err)
	}
	return s, nil
}

func newStore(db *sql.DB, acquireTimeout time.Duration, log *slog.Logger) *Store {
	meter := otel.Meter(instrumentationName)

	units, err := meter.Int64Counter("botmaster.db.units_of_work",
		metric.WithDescription("Units of work executed, by mode and outcome"))
	if err != nil {
		units = noop.Int64Counter{}
	}
	rollbacks, err := meter.Int64Counter("botmaster.db.rollbacks",
		metric.WithDescription("Transactions rolled back"))
	if err != nil {
		rollbacks = noop.Int64Counter{}
	}

	return &Store{
		db:             db,
		acquireTimeout: acquireTimeout,
		log:            log.With("component", "postgres"),
		tracer:         otel.Tracer(instrumentationName),
		units:          units,
		rollbacks:      rollbacks,
	}
}

func (s *Store) registerPoolMetrics() error {
	meter := otel.Meter(instrumentationName)

	gauges := []struct {
		name  string
		desc  string
		value func(sql.DBStats) int64
	}{
		{"botmaster.db.pool.in_use", "Connections currently owned by a unit of work", func(st sql.DBStats) int64 { return int64(st.InUse) }},
		{"botmaster.db.pool.idle", "Idle pooled connections", func(st sql.DBStats) int64 { return int64(st.Idle) }},
		{"botmaster.db.pool.wait_count", "Total acquisitions that had to wait", func(st sql.DBStats) int64 { return st.WaitCount }},
	}
	for _, g := range gauges {
		value := g.value
		_, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				obs.Observe(value(s.db.Stats()))
				return nil
			}),
		)
		if err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
