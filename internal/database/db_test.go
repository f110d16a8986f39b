package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), name+".db"), Name: name})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_CreatesReportsTable(t *testing.T) {
	db := newTestDB(t, "reports")
	require.NoError(t, db.Migrate())
	// idempotent
	require.NoError(t, db.Migrate())

	var name string
	err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='reports'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "reports", name)
}

func TestMigrate_UnknownSchemaIsNoop(t *testing.T) {
	db := newTestDB(t, "scratch")
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t, "scratch")
	_, err := db.Conn().Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newTestDB(t, "scratch")
	err := WithTransaction(db.Conn(), func(*sql.Tx) error { panic("bad") })
	assert.ErrorContains(t, err, "panic in transaction")
}

func TestHealthCheckAndStats(t *testing.T) {
	db := newTestDB(t, "reports")
	require.NoError(t, db.Migrate())
	require.NoError(t, db.HealthCheck(context.Background()))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
