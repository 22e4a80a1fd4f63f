// Package directorytest provides an in-memory directory.Client for tests.
package directorytest

import (
	"context"
	"sync"

	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Fake is a scriptable directory.Client that counts calls.
type Fake struct {
	mu sync.Mutex

	Orgs    []models.Organization
	Persons map[string]int64 // "tenant/org_ref/full name" -> person ref
	Groups  map[models.OrgKey][]string
	Reports map[string]*models.Report // group code -> report

	// Err is returned by every tenant-scoped call when set.
	Err error
	// SubmitErr is returned by SubmitReport when set.
	SubmitErr error

	SubmitResult string
	Submitted    []*models.Report

	Calls map[string]int
}

var _ directory.Client = (*Fake)(nil)

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		Persons:      make(map[string]int64),
		Groups:       make(map[models.OrgKey][]string),
		Reports:      make(map[string]*models.Report),
		SubmitResult: "OK",
		Calls:        make(map[string]int),
	}
}

// AddPerson registers an employee of an org.
func (f *Fake) AddPerson(key models.OrgKey, name models.PersonName, ref int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Persons[key.String()+"/"+name.String()] = ref
}

// CallCount returns how many times an operation was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[op]++
}

func (f *Fake) FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error) {
	f.record("FindOrgs")
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Organization
	for _, o := range f.Orgs {
		if o.TaxID == taxID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) FindPerson(ctx context.Context, tenantKey string, orgRef int64, name models.PersonName) (int64, bool, error) {
	f.record("FindPerson")
	if f.Err != nil {
		return 0, false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := models.OrgKey{TenantKey: tenantKey, OrgRef: orgRef}
	ref, ok := f.Persons[key.String()+"/"+name.String()]
	return ref, ok, nil
}

func (f *Fake) ListGroups(ctx context.Context, tenantKey string, orgRef int64) ([]string, error) {
	f.record("ListGroups")
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Groups[models.OrgKey{TenantKey: tenantKey, OrgRef: orgRef}], nil
}

func (f *Fake) FetchReport(ctx context.Context, tenantKey string, orgRef int64, groupCode string) (*models.Report, error) {
	f.record("FetchReport")
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rep, ok := f.Reports[groupCode]
	if !ok {
		return nil, directory.ErrTransfer
	}
	c := *rep
	return &c, nil
}

func (f *Fake) SubmitReport(ctx context.Context, tenantKey string, companyRef int64, rep *models.Report) (string, error) {
	f.record("SubmitReport")
	if f.Err != nil {
		return "", f.Err
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c := *rep
	f.Submitted = append(f.Submitted, &c)
	return f.SubmitResult, nil
}

func (f *Fake) Close() {}
