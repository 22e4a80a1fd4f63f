// Package resolver answers organization lookups from the identity cache and
// falls back to the remote directory when the cache cannot be trusted.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// Resolver resolves organizations by tax id.
type Resolver struct {
	orgs   store.OrganizationStore
	remote directory.Client
}

// New creates a resolver.
func New(orgs store.OrganizationStore, remote directory.Client) *Resolver {
	return &Resolver{orgs: orgs, remote: remote}
}

// ResolveByTaxID returns the organizations registered under a tax id.
//
//   - nothing cached: one remote lookup, every result is cached
//   - one cached: one remote re-check, in case a second org appeared upstream;
//     the remote answer wins only when it has two or more orgs
//   - two or more cached: answered from the cache
func (r *Resolver) ResolveByTaxID(ctx context.Context, taxID string) ([]models.Organization, error) {
	logger := zerolog.Ctx(ctx)
	m := telemetry.GetMetrics()

	cached, err := r.orgs.ListByTaxID(ctx, taxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached organizations: %w", err)
	}

	switch len(cached) {
	case 0:
		m.CacheMissesTotal.Add(ctx, 1)
		return r.refresh(ctx, taxID)

	case 1:
		m.CacheMissesTotal.Add(ctx, 1)
		remote, err := r.remote.FindOrgs(ctx, taxID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-check organizations: %w", err)
		}
		if len(remote) >= 2 {
			logger.Info().Str("tax_id", taxID).Int("found", len(remote)).Msg("Additional organizations found upstream")
			r.insert(ctx, remote)
			return remote, nil
		}
		return []models.Organization{*cached[0]}, nil

	default:
		m.CacheHitsTotal.Add(ctx, 1)
		orgs := make([]models.Organization, 0, len(cached))
		for _, o := range cached {
			orgs = append(orgs, *o)
		}
		return orgs, nil
	}
}

// ResolveByCodeAndTaxID returns the organization with the given mnemonic.
// A cache miss forces a remote refresh of the tax id. found is false when
// neither the cache nor the remote directory knows the org.
func (r *Resolver) ResolveByCodeAndTaxID(ctx context.Context, code, taxID string) (*models.Organization, bool, error) {
	m := telemetry.GetMetrics()

	org, err := r.orgs.GetByCode(ctx, code, taxID)
	if err == nil {
		m.CacheHitsTotal.Add(ctx, 1)
		return org, true, nil
	}
	if !errors.Is(err, store.ErrOrganizationNotFound) {
		return nil, false, fmt.Errorf("failed to get cached organization: %w", err)
	}

	m.CacheMissesTotal.Add(ctx, 1)
	orgs, err := r.refresh(ctx, taxID)
	if err != nil {
		return nil, false, err
	}

	for i := range orgs {
		if orgs[i].Code == code {
			return &orgs[i], true, nil
		}
	}
	return nil, false, nil
}

// Get returns a cached organization by key.
func (r *Resolver) Get(ctx context.Context, key models.OrgKey) (*models.Organization, error) {
	return r.orgs.Get(ctx, key)
}

func (r *Resolver) refresh(ctx context.Context, taxID string) ([]models.Organization, error) {
	remote, err := r.remote.FindOrgs(ctx, taxID)
	if err != nil {
		return nil, fmt.Errorf("failed to find organizations: %w", err)
	}
	r.insert(ctx, remote)
	return remote, nil
}

// insert caches organizations. Conflicts mean an equivalent record is already
// cached; other failures are logged since the remote answer is still valid.
func (r *Resolver) insert(ctx context.Context, orgs []models.Organization) {
	logger := zerolog.Ctx(ctx)
	m := telemetry.GetMetrics()

	for i := range orgs {
		outcome := "created"
		err := r.orgs.Create(ctx, &orgs[i])
		switch {
		case err == nil:
		case errors.Is(err, store.ErrOrganizationAlreadyExists):
			outcome = "conflict"
		default:
			outcome = "error"
			logger.Error().Err(err).
				Str("tenant", orgs[i].TenantKey).
				Str("code", orgs[i].Code).
				Msg("Failed to cache organization")
		}
		m.CacheInserts.Add(ctx, 1, metric.WithAttributes(telemetry.AttrOutcome.String(outcome)))
	}
}
