package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kellyhimself/POS-sub002/internal/store/migrations"
	"github.com/Kellyhimself/POS-sub002/pkg/database"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Store is the durable local store. It owns one SQLite connection held in
// exclusive locking mode, so exactly one process writes the file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the store file, applies migrations and
// takes the write lock by touching store_meta. A second process opening the
// same file fails with a busy error.
func Open(ctx context.Context, cfg database.SQLiteConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := database.OpenSQLite(ctx, cfg)
	if err != nil {
		return nil, apperrors.Persistence("open", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := database.RunMigrations(ctx, db, migrations.FS, logger); err != nil {
		_ = db.Close()
		return nil, apperrors.Persistence("migrate", err)
	}
	if err := s.setMeta(ctx, "last_opened_at", s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("local store opened", slog.String("path", cfg.Path))
	return s, nil
}

// Close releases the connection and the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for pool metrics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DeviceID returns the persisted device id. When configured is non-empty it
// replaces the stored value; otherwise a stored id is reused or a new one
// generated.
func (s *Store) DeviceID(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, s.setMeta(ctx, "device_id", configured)
	}

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'device_id'`).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		return id, s.setMeta(ctx, "device_id", id)
	default:
		return "", apperrors.Persistence("load device id", err)
	}
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return apperrors.Persistence("write store meta", err)
	}
	return nil
}

// withTx runs fn in one immediate transaction. Errors from fn are returned
// as-is; commit failures are persistence errors.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	ctx, finish := database.TraceQuery(ctx, database.SystemSQLite, op, "")
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err = apperrors.Persistence(op, err)
		finish(err)
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		finish(err)
		return err
	}
	if err := tx.Commit(); err != nil {
		err = apperrors.Persistence(op, err)
		finish(err)
		return err
	}
	finish(nil)
	return nil
}

func (s *Store) nowNanos() int64 {
	return s.now().UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// persistErr wraps a database error, passing through errors that already
// carry an application meaning.
func persistErr(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Persistence(op, err)
}
