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

const organizationColumns = `tenant_key, org_ref, code, tax_id, name, company_ref, company_name, created_at`

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with the user store.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{
		pool: pool,
	}
}

// Create inserts a new organization. Organizations are never updated.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (` + organizationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	createdAt := org.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		org.TenantKey,
		org.OrgRef,
		org.Code,
		org.TaxID,
		org.Name,
		org.CompanyRef,
		org.CompanyName,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
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
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE tenant_key = $1 AND org_ref = $2`

	org, err := scanOrganization(s.pool.QueryRow(ctx, query, key.TenantKey, key.OrgRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return org, nil
}

// GetByCode retrieves an organization by mnemonic and tax id.
func (s *OrganizationStore) GetByCode(ctx context.Context, code, taxID string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE code = $1 AND tax_id = $2`

	org, err := scanOrganization(s.pool.QueryRow(ctx, query, code, taxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization by code: %w", mapPostgresError(err))
	}

	return org, nil
}

// ListByTaxID returns all organizations registered under a tax id.
func (s *OrganizationStore) ListByTaxID(ctx context.Context, taxID string) ([]*models.Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		WHERE tax_id = $1
		ORDER BY tenant_key, code
	`

	rows, err := s.pool.Query(ctx, query, taxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", mapPostgresError(err))
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

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var org models.Organization
	err := row.Scan(
		&org.TenantKey,
		&org.OrgRef,
		&org.Code,
		&org.TaxID,
		&org.Name,
		&org.CompanyRef,
		&org.CompanyName,
		&org.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}
