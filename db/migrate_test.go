package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrate(t *testing.T) {
	conn := openMemoryDB(t)

	err := Migrate(conn, nil)
	require.NoError(t, err)

	// All expected tables exist
	tables := []string{
		"schema_migrations",
		"jobs",
		"job_transitions",
		"automation_rules",
		"automation_runs",
		"recurring_series",
		"recurring_instances",
		"clients",
		"invoices",
	}
	for _, table := range tables {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	conn := openMemoryDB(t)

	require.NoError(t, Migrate(conn, nil))

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))

	// Re-running must be a no-op
	require.NoError(t, Migrate(conn, nil))

	var count2 int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count2))
	assert.Equal(t, count, count2)
}

func TestMigrateRecordsVersions(t *testing.T) {
	conn := openMemoryDB(t)
	require.NoError(t, Migrate(conn, nil))

	rows, err := conn.Query("SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())

	assert.Contains(t, versions, "000")
	assert.Contains(t, versions, "001")
	assert.GreaterOrEqual(t, len(versions), 5)
}

func TestOpenWithMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	conn, err := OpenWithMigrations(path, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Foreign keys enforced
	var fk int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	// Schema is usable
	_, err = conn.Exec("SELECT COUNT(*) FROM jobs")
	assert.NoError(t, err)
}

func TestForeignKeyEnforcement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fk.db")
	conn, err := OpenWithMigrations(path, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(
		"INSERT INTO job_transitions (id, job_id, from_state, to_state, actor_id, actor_role, system_triggered, table_version, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)",
		"tr_x", "job_missing", "Draft", "Scheduled", "u1", "admin", "2026-01-01T00:00:00Z",
	)
	assert.Error(t, err, "transition for a missing job must be rejected")
}
