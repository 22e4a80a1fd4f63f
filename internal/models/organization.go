package models

import (
	"strconv"
	"time"
)

// OrgKey identifies an organization inside the tenant backend that owns it.
// OrgRef is only unique within a tenant, so both parts are needed.
type OrgKey struct {
	TenantKey string
	OrgRef    int64
}

func (k OrgKey) String() string {
	return k.TenantKey + "/" + strconv.FormatInt(k.OrgRef, 10)
}

// Organization is a tenant-scoped record discovered through a remote lookup.
// (Code, TaxID) is globally unique in the identity cache. Records are created
// once and never updated; a newer remote answer is inserted alongside.
type Organization struct {
	TenantKey   string // backend that owns the org
	Code        string // mnemonic, unique within tenant + tax id
	TaxID       string
	Name        string
	CompanyRef  int64 // owning legal entity
	CompanyName string
	OrgRef      int64 // backend-internal identifier
	CreatedAt   time.Time
}

// Key returns the lookup key for the organization.
func (o *Organization) Key() OrgKey {
	return OrgKey{TenantKey: o.TenantKey, OrgRef: o.OrgRef}
}
