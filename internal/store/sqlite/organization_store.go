package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/rs/zerolog/log"
)

const organizationColumns = `tenant_key, org_ref, code, tax_id, name, company_ref, company_name, created_at`

// OrganizationStore implements store.OrganizationStore on SQLite.
type OrganizationStore struct {
	db *sql.DB
}

// Create inserts a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	createdAt := org.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (`+organizationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.TenantKey,
		org.OrgRef,
		org.Code,
		org.TaxID,
		org.Name,
		org.CompanyRef,
		org.CompanyName,
		toUnix(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	log.Debug().
		Str("tenant_key", org.TenantKey).
		Int64("org_ref", org.OrgRef).
		Str("code", org.Code).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by tenant-scoped key.
func (s *OrganizationStore) Get(ctx context.Context, key models.OrgKey) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE tenant_key = ? AND org_ref = ?`,
		key.TenantKey, key.OrgRef)

	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByCode retrieves an organization by mnemonic and tax id.
func (s *OrganizationStore) GetByCode(ctx context.Context, code, taxID string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE code = ? AND tax_id = ?`,
		code, taxID)

	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization by code: %w", err)
	}
	return org, nil
}

// ListByTaxID returns all organizations registered under a tax id.
func (s *OrganizationStore) ListByTaxID(ctx context.Context, taxID string) ([]*models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE tax_id = ? ORDER BY tenant_key, code`,
		taxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (*models.Organization, error) {
	var (
		org       models.Organization
		createdAt int64
	)
	err := row.Scan(
		&org.TenantKey,
		&org.OrgRef,
		&org.Code,
		&org.TaxID,
		&org.Name,
		&org.CompanyRef,
		&org.CompanyName,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	org.CreatedAt = fromUnix(createdAt)
	return &org, nil
}
