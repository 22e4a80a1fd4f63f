package store

import (
	"context"
	"errors"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
)

// OrganizationStore is the organization half of the identity cache.
// Organizations are insert-only: there is no update or delete.
type OrganizationStore interface {
	// Create inserts a new organization.
	// Returns ErrOrganizationAlreadyExists if (Code, TaxID) is already cached.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by its tenant-scoped key.
	// Returns ErrOrganizationNotFound if the organization isn't cached.
	Get(ctx context.Context, key models.OrgKey) (*models.Organization, error)

	// GetByCode retrieves the organization with the given mnemonic and tax id.
	// Returns ErrOrganizationNotFound if the organization isn't cached.
	GetByCode(ctx context.Context, code, taxID string) (*models.Organization, error)

	// ListByTaxID returns every cached organization registered under taxID,
	// ordered by tenant key then code. An empty result is not an error.
	ListByTaxID(ctx context.Context, taxID string) ([]*models.Organization, error)
}
