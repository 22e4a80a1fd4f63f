package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
)

// UserStore implements store.UserStore on SQLite.
type UserStore struct {
	db *sql.DB
}

// Get retrieves a user by identity.
func (s *UserStore) Get(ctx context.Context, identityID int64) (*models.User, error) {
	var (
		user                            models.User
		orgTenant, family, first        sql.NullString
		middle, group                   sql.NullString
		orgRef, personRef, lastExchange sql.NullInt64
		createdAt, updatedAt            int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT identity_id, username, display_name, tax_id,
			org_tenant_key, org_ref, person_ref, family_name, first_name, middle_name,
			group_code, receive_count, send_count, last_exchange_at, created_at, updated_at
		FROM users WHERE identity_id = ?`, identityID).Scan(
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
		&group,
		&user.ReceiveCount,
		&user.SendCount,
		&lastExchange,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if orgTenant.Valid && orgRef.Valid {
		user.Org = &models.OrgKey{TenantKey: orgTenant.String, OrgRef: orgRef.Int64}
	}
	if personRef.Valid {
		user.Person = &models.Person{
			Ref:  personRef.Int64,
			Name: models.PersonName{Family: family.String, First: first.String},
		}
		if middle.Valid {
			m := middle.String
			user.Person.Name.Middle = &m
		}
	}
	if group.Valid {
		g := group.String
		user.GroupCode = &g
	}
	if lastExchange.Valid {
		t := fromUnix(lastExchange.Int64)
		user.LastExchangeAt = &t
	}
	user.CreatedAt = fromUnix(createdAt)
	user.UpdatedAt = fromUnix(updatedAt)

	return &user, nil
}

// Put creates or replaces a user. created_at survives replacement.
func (s *UserStore) Put(ctx context.Context, user *models.User) error {
	var (
		orgTenant, family, first        sql.NullString
		middle, group                   sql.NullString
		orgRef, personRef, lastExchange sql.NullInt64
	)
	if user.Org != nil {
		orgTenant = sql.NullString{String: user.Org.TenantKey, Valid: true}
		orgRef = sql.NullInt64{Int64: user.Org.OrgRef, Valid: true}
	}
	if user.Person != nil {
		personRef = sql.NullInt64{Int64: user.Person.Ref, Valid: true}
		family = sql.NullString{String: user.Person.Name.Family, Valid: true}
		first = sql.NullString{String: user.Person.Name.First, Valid: true}
		if user.Person.Name.Middle != nil {
			middle = sql.NullString{String: *user.Person.Name.Middle, Valid: true}
		}
	}
	if user.GroupCode != nil {
		group = sql.NullString{String: *user.GroupCode, Valid: true}
	}
	if user.LastExchangeAt != nil {
		lastExchange = sql.NullInt64{Int64: toUnix(*user.LastExchangeAt), Valid: true}
	}
	now := toUnix(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			identity_id, username, display_name, tax_id,
			org_tenant_key, org_ref, person_ref, family_name, first_name, middle_name,
			group_code, receive_count, send_count, last_exchange_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			tax_id = excluded.tax_id,
			org_tenant_key = excluded.org_tenant_key,
			org_ref = excluded.org_ref,
			person_ref = excluded.person_ref,
			family_name = excluded.family_name,
			first_name = excluded.first_name,
			middle_name = excluded.middle_name,
			group_code = excluded.group_code,
			receive_count = excluded.receive_count,
			send_count = excluded.send_count,
			last_exchange_at = excluded.last_exchange_at,
			updated_at = excluded.updated_at`,
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
		group,
		user.ReceiveCount,
		user.SendCount,
		lastExchange,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}

	return nil
}

// Delete removes a user. Deleting a missing user is not an error.
func (s *UserStore) Delete(ctx context.Context, identityID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
