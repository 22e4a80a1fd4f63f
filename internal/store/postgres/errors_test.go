package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/stretchr/testify/require"
)

func TestMapPostgresError(t *testing.T) {
	require.NoError(t, mapPostgresError(nil))

	plain := errors.New("boom")
	require.Same(t, plain, mapPostgresError(plain))

	tests := []struct {
		name     string
		err      *pgconn.PgError
		sentinel error
		contains string
	}{
		{
			name:     "duplicate organization",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, TableName: "organizations", ConstraintName: "organizations_code_tax_id_key"},
			sentinel: store.ErrOrganizationAlreadyExists,
		},
		{
			name:     "other unique violation",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, TableName: "users", ConstraintName: "users_pkey"},
			contains: "constraint users_pkey violated",
		},
		{
			name:     "serialization failure",
			err:      &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			contains: "retryable",
		},
		{
			name:     "admin shutdown",
			err:      &pgconn.PgError{Code: pgerrcode.AdminShutdown},
			contains: "identity cache unavailable",
		},
		{
			name:     "too many connections",
			err:      &pgconn.PgError{Code: pgerrcode.TooManyConnections},
			contains: "resource limit",
		},
		{
			name:     "syntax error",
			err:      &pgconn.PgError{Code: pgerrcode.SyntaxError, Message: "syntax error at or near"},
			contains: "postgres error [42601]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapPostgresError(tt.err)
			require.Error(t, err)
			if tt.sentinel != nil {
				require.ErrorIs(t, err, tt.sentinel)
				return
			}
			require.ErrorContains(t, err, tt.contains)

			var pgErr *pgconn.PgError
			require.ErrorAs(t, err, &pgErr)
		})
	}

	require.True(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	require.False(t, isUniqueViolation(plain))
}
