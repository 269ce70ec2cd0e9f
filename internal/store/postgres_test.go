package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, apperr.CodeConflict},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, apperr.CodeConflict},
		{"not null violation", &pgconn.PgError{Code: "23502"}, apperr.CodeUnprocessable},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, apperr.CodeInternal},
		{"no rows", sql.ErrNoRows, apperr.CodeNotFound},
		{"plain error", errors.New("boom"), apperr.CodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := mapErr(tc.err, "entity %s not found", "x")
			require.Error(t, err)
			assert.Equal(t, tc.want, apperr.CodeOf(err))
		})
	}
}

func TestMapErrNil(t *testing.T) {
	assert.NoError(t, mapErr(nil, "unused"))
}

func TestMapErrWrappedDriverError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23503"}
	err := mapErr(pgErr, "unused")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	// the driver error stays reachable for callers that need detail
	var unwrapped *pgconn.PgError
	assert.True(t, errors.As(err, &unwrapped))
}
