package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
)

type codeTaxID struct {
	code  string
	taxID string
}

// OrganizationStore implements store.OrganizationStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[codeTaxID]*models.Organization    // (code, tax id) -> Organization
	byKey         map[models.OrgKey]*models.Organization // tenant/org_ref -> Organization
}

// NewOrganizationStore creates a new in-memory organization store.
func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[codeTaxID]*models.Organization),
		byKey:         make(map[models.OrgKey]*models.Organization),
	}
}

// Create inserts a new organization in memory. Both (code, tax id) and the
// tenant-scoped key must be unused.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := codeTaxID{code: org.Code, taxID: org.TaxID}
	if _, exists := s.organizations[k]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.byKey[org.Key()]; exists {
		return store.ErrOrganizationAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *org
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.organizations[k] = &clone
	s.byKey[clone.Key()] = &clone

	return nil
}

// Get retrieves an organization by tenant-scoped key.
func (s *OrganizationStore) Get(ctx context.Context, key models.OrgKey) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.byKey[key]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// GetByCode retrieves an organization by mnemonic and tax id.
func (s *OrganizationStore) GetByCode(ctx context.Context, code, taxID string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[codeTaxID{code: code, taxID: taxID}]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// ListByTaxID returns all organizations registered under a tax id.
func (s *OrganizationStore) ListByTaxID(ctx context.Context, taxID string) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Organization
	for k, org := range s.organizations {
		if k.taxID == taxID {
			clone := *org
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TenantKey != result[j].TenantKey {
			return result[i].TenantKey < result[j].TenantKey
		}
		return result[i].Code < result[j].Code
	})

	return result, nil
}
