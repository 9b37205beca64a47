package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/reportgen/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique", &pgconn.PgError{Code: uniqueViolationCode}, store.ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: foreignKeyViolationCode}, store.ErrInvalidEntity},
		{"check", &pgconn.PgError{Code: checkViolationCode, ConstraintName: "jobs_status_check"}, store.ErrInvalidEntity},
		{"not null", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: notNullViolationCode}), store.ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, MapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, MapError(nil))
	other := errors.New("connection reset")
	assert.Equal(t, other, MapError(other))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
}

type mockResult struct {
	rows int64
	err  error
}

func (m mockResult) LastInsertId() (int64, error) { return 0, nil }
func (m mockResult) RowsAffected() (int64, error) { return m.rows, m.err }

func TestRowsAffected(t *testing.T) {
	t.Parallel()

	n, err := rowsAffected(mockResult{rows: 1})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = rowsAffected(mockResult{err: errors.New("driver gone")})
	assert.ErrorContains(t, err, "rows affected")

	_, err = rowsAffected(nil)
	assert.Error(t, err)
}
