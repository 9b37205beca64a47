package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/phrazzld/reportgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openCounterDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&n))
	return n
}

func TestRunInTransaction_Success(t *testing.T) {
	t.Parallel()
	db := openCounterDB(t)

	err := store.RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('a', 1)`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))
}

func TestRunInTransaction_FunctionError(t *testing.T) {
	t.Parallel()
	db := openCounterDB(t)

	expectedErr := errors.New("function failed")
	err := store.RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('a', 1)`); err != nil {
			return err
		}
		return expectedErr
	})
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 0, count(t, db), "insert is rolled back")
}

func TestRunInTransaction_Panic(t *testing.T) {
	t.Parallel()
	db := openCounterDB(t)

	assert.Panics(t, func() {
		_ = store.RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
			_, _ = tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('a', 1)`)
			panic("boom")
		})
	})
	assert.Equal(t, 0, count(t, db))
}
