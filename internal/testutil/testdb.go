package testutil

import (
	"database/sql"
	"testing"

	"projectops/internal/db"
	"projectops/internal/migrate"
)

// NewTestDB opens a migrated database in a temporary workspace. It is
// closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
