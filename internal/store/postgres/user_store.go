package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/rs/zerolog/log"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool: pool,
	}
}

// Get retrieves a user by identity.
func (s *UserStore) Get(ctx context.Context, identityID int64) (*models.User, error) {
	query := `
		SELECT identity_id, username, display_name, tax_id,
			org_tenant_key, org_ref, person_ref, family_name, first_name, middle_name,
			group_code, receive_count, send_count, last_exchange_at, created_at, updated_at
		FROM users
		WHERE identity_id = $1
	`

	var (
		user                  models.User
		orgTenant             *string
		orgRef, personRef     *int64
		family, first, middle *string
	)
	err := s.pool.QueryRow(ctx, query, identityID).Scan(
		&user.IdentityID,
		&user.Username,
		&user.DisplayName,
		&user.TaxID,
		&orgTenant,
		&orgRef,
		&personRef,
		&family,
		&first,
		&middle,
		&user.GroupCode,
		&user.ReceiveCount,
		&user.SendCount,
		&user.LastExchangeAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}

	if orgTenant != nil && orgRef != nil {
		user.Org = &models.OrgKey{TenantKey: *orgTenant, OrgRef: *orgRef}
	}
	if personRef != nil {
		user.Person = &models.Person{Ref: *personRef, Name: models.PersonName{Middle: middle}}
		if family != nil {
			user.Person.Name.Family = *family
		}
		if first != nil {
			user.Person.Name.First = *first
		}
	}

	return &user, nil
}

// Put creates or replaces a user. created_at survives replacement.
func (s *UserStore) Put(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (
			identity_id, username, display_name, tax_id,
			org_tenant_key, org_ref, person_ref, family_name, first_name, middle_name,
			group_code, receive_count, send_count, last_exchange_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15
		)
		ON CONFLICT (identity_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			tax_id = EXCLUDED.tax_id,
			org_tenant_key = EXCLUDED.org_tenant_key,
			org_ref = EXCLUDED.org_ref,
			person_ref = EXCLUDED.person_ref,
			family_name = EXCLUDED.family_name,
			first_name = EXCLUDED.first_name,
			middle_name = EXCLUDED.middle_name,
			group_code = EXCLUDED.group_code,
			receive_count = EXCLUDED.receive_count,
			send_count = EXCLUDED.send_count,
			last_exchange_at = EXCLUDED.last_exchange_at,
			updated_at = EXCLUDED.updated_at
	`

	var (
		orgTenant             *string
		orgRef, personRef     *int64
		family, first, middle *string
	)
	if user.Org != nil {
		orgTenant = &user.Org.TenantKey
		orgRef = &user.Org.OrgRef
	}
	if user.Person != nil {
		personRef = &user.Person.Ref
		family = &user.Person.Name.Family
		first = &user.Person.Name.First
		middle = user.Person.Name.Middle
	}

	_, err := s.pool.Exec(ctx, query,
		user.IdentityID,
		user.Username,
		user.DisplayName,
		user.TaxID,
		orgTenant,
		orgRef,
		personRef,
		family,
		first,
		middle,
		user.GroupCode,
		user.ReceiveCount,
		user.SendCount,
		user.LastExchangeAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", mapPostgresError(err))
	}

	log.Debug().Int64("identity_id", user.IdentityID).Msg("Stored user")

	return nil
}

// Delete removes a user. Deleting a missing user is not an error.
func (s *UserStore) Delete(ctx context.Context, identityID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapPostgresError(err))
	}

	log.Debug().Int64("identity_id", identityID).Msg("Deleted user")

	return nil
}
