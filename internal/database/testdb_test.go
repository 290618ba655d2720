package database

import (
	"path/filepath"
	"testing"

	"github.com/snappy-loop/storyreel/migrations"
)

// newTestDB opens a fresh, migrated SQLite database in a per-test
// temp directory. Each test gets its own file so they never contend
// for the single-writer connection.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db.DB); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
