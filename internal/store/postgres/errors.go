package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
)

// mapPostgresError wraps a PostgreSQL error with its error class so logs tell
// an unreachable cache from a bad query. A duplicate organization becomes
// store.ErrOrganizationAlreadyExists. Non-PostgreSQL errors pass through.
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}

	code := pgErr.Code
	switch {
	case code == pgerrcode.UniqueViolation && pgErr.TableName == "organizations":
		return fmt.Errorf("%w: %s", store.ErrOrganizationAlreadyExists, pgErr.ConstraintName)
	case pgerrcode.IsIntegrityConstraintViolation(code):
		return fmt.Errorf("constraint %s violated: %w", pgErr.ConstraintName, err)
	case pgerrcode.IsTransactionRollback(code):
		return fmt.Errorf("transaction conflict (retryable): %w", err)
	case pgerrcode.IsConnectionException(code), pgerrcode.IsOperatorIntervention(code):
		return fmt.Errorf("identity cache unavailable: %w", err)
	case pgerrcode.IsInsufficientResources(code):
		return fmt.Errorf("identity cache resource limit: %w", err)
	default:
		return fmt.Errorf("postgres error [%s]: %s: %w", code, pgErr.Message, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
