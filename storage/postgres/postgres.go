package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/storage"
)

const (
	backendName = "postgres"

	// DefaultConsumedGrantRetention keeps consumed codes past their expiry
	// so a late replay is still recognised.
	DefaultConsumedGrantRetention = time.Hour
)

//go:embed schema.sql
var schemaSQL string

// DB is the subset of *pgxpool.Pool the store uses. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a PostgreSQL implementation of storage.Store.
type Store struct {
	db     DB
	logger *slog.Logger

	consumedGrantRetention time.Duration

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.Store = (*Store)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// New creates a store on db. The caller owns db and closes it.
func New(db DB) *Store {
	return &Store{
		db:                     db,
		logger:                 slog.Default(),
		consumedGrantRetention: DefaultConsumedGrantRetention,
	}
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetConsumedGrantRetention sets how long consumed codes outlive their expiry.
func (s *Store) SetConsumedGrantRetention(d time.Duration) {
	s.consumedGrantRetention = d
}

// SetInstrumentation enables tracing and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return unavailable("migrate", err)
	}
	s.logger.Info("Postgres schema is up to date")
	return nil
}

// unavailable marks a database failure as retryable for callers.
func unavailable(op string, err error) error {
	if errors.Is(err, storage.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrStoreUnavailable, op, err)
}

// withTx runs fn in a transaction, committing only if fn succeeds. Errors
// from fn are returned as they are.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("Rollback failed", "operation", op, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// orNil maps the zero time to SQL NULL.
func orNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullable(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, backendName, operation)
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, backendName, operation, result, durationMs)
}
