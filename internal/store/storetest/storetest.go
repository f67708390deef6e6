// Package storetest opens throwaway store drivers for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memohai/wadesk/internal/store/sqlite"
)

// NewSQLite returns a migrated SQLite driver backed by a file in t.TempDir().
func NewSQLite(t testing.TB) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
