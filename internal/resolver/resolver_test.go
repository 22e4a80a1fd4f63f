package resolver

import (
	"context"
	"testing"

	"github.com/parusinf/timesheets-parus-bot/internal/directory/directorytest"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store/memory"
	"github.com/stretchr/testify/require"
)

const taxID = "7701234567"

func org(tenant, code string, ref int64) models.Organization {
	return models.Organization{TenantKey: tenant, Code: code, TaxID: taxID, Name: "Org " + code, OrgRef: ref, CompanyRef: 1}
}

func TestResolveByTaxID_NothingCached(t *testing.T) {
	ctx := context.Background()
	orgs := memory.NewOrganizationStore()
	remote := directorytest.New()
	remote.Orgs = []models.Organization{org("t1", "DS-1", 1)}

	r := New(orgs, remote)

	got, err := r.ResolveByTaxID(ctx, taxID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, remote.CallCount("FindOrgs"))

	cached, err := orgs.ListByTaxID(ctx, taxID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
}

func TestResolveByTaxID_NothingAnywhere(t *testing.T) {
	r := New(memory.NewOrganizationStore(), directorytest.New())

	got, err := r.ResolveByTaxID(context.Background(), taxID)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolveByTaxID_OneCached(t *testing.T) {
	t.Run("remote still has one", func(t *testing.T) {
		ctx := context.Background()
		orgs := memory.NewOrganizationStore()
		o := org("t1", "DS-1", 1)
		require.NoError(t, orgs.Create(ctx, &o))

		remote := directorytest.New()
		remote.Orgs = []models.Organization{org("t1", "DS-1", 1)}

		got, err := New(orgs, remote).ResolveByTaxID(ctx, taxID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, 1, remote.CallCount("FindOrgs"))
	})

	t.Run("remote empty keeps cached match", func(t *testing.T) {
		ctx := context.Background()
		orgs := memory.NewOrganizationStore()
		o := org("t1", "DS-1", 1)
		require.NoError(t, orgs.Create(ctx, &o))

		remote := directorytest.New()

		got, err := New(orgs, remote).ResolveByTaxID(ctx, taxID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "DS-1", got[0].Code)
	})

	t.Run("second org appeared upstream", func(t *testing.T) {
		ctx := context.Background()
		orgs := memory.NewOrganizationStore()
		o := org("t1", "DS-1", 1)
		require.NoError(t, orgs.Create(ctx, &o))

		remote := directorytest.New()
		remote.Orgs = []models.Organization{org("t1", "DS-1", 1), org("t2", "DS-2", 2)}
		r := New(orgs, remote)

		got, err := r.ResolveByTaxID(ctx, taxID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, 1, remote.CallCount("FindOrgs"))

		cached, err := orgs.ListByTaxID(ctx, taxID)
		require.NoError(t, err)
		require.Len(t, cached, 2, "existing org is not duplicated")

		// Two cached now: answered without a remote call
		got, err = r.ResolveByTaxID(ctx, taxID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, 1, remote.CallCount("FindOrgs"))
	})
}

func TestResolveByTaxID_TwoCached(t *testing.T) {
	ctx := context.Background()
	orgs := memory.NewOrganizationStore()
	for _, o := range []models.Organization{org("t1", "DS-1", 1), org("t2", "DS-2", 2)} {
		require.NoError(t, orgs.Create(ctx, &o))
	}
	remote := directorytest.New()

	got, err := New(orgs, remote).ResolveByTaxID(ctx, taxID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 0, remote.CallCount("FindOrgs"))
}

func TestResolveByCodeAndTaxID(t *testing.T) {
	t.Run("cache hit", func(t *testing.T) {
		ctx := context.Background()
		orgs := memory.NewOrganizationStore()
		o := org("t1", "DS-1", 1)
		require.NoError(t, orgs.Create(ctx, &o))
		remote := directorytest.New()

		got, found, err := New(orgs, remote).ResolveByCodeAndTaxID(ctx, "DS-1", taxID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(1), got.OrgRef)
		require.Equal(t, 0, remote.CallCount("FindOrgs"))
	})

	t.Run("cache miss forces refresh", func(t *testing.T) {
		ctx := context.Background()
		orgs := memory.NewOrganizationStore()
		o := org("t1", "DS-1", 1)
		require.NoError(t, orgs.Create(ctx, &o))
		remote := directorytest.New()
		remote.Orgs = []models.Organization{org("t1", "DS-1", 1), org("t1", "DS-2", 2)}

		got, found, err := New(orgs, remote).ResolveByCodeAndTaxID(ctx, "DS-2", taxID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(2), got.OrgRef)
		require.Equal(t, 1, remote.CallCount("FindOrgs"))

		_, err = orgs.GetByCode(ctx, "DS-2", taxID)
		require.NoError(t, err)
	})

	t.Run("unknown code", func(t *testing.T) {
		ctx := context.Background()
		remote := directorytest.New()
		remote.Orgs = []models.Organization{org("t1", "DS-1", 1)}

		_, found, err := New(memory.NewOrganizationStore(), remote).ResolveByCodeAndTaxID(ctx, "DS-9", taxID)
		require.NoError(t, err)
		require.False(t, found)
	})
}
