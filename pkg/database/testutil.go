package database

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"
)

// NewTestSQLite opens a migrated SQLite database in t.TempDir and closes it
// when the test ends.
func NewTestSQLite(t testing.TB, migrations fs.FS) *sql.DB {
	t.Helper()

	cfg := DefaultSQLiteConfig(filepath.Join(t.TempDir(), "pos.db"))
	db, err := OpenSQLite(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if migrations != nil {
		logger := slog.New(slog.DiscardHandler)
		if err := RunMigrations(context.Background(), db, migrations, logger); err != nil {
			t.Fatalf("migrate test sqlite: %v", err)
		}
	}
	return db
}
