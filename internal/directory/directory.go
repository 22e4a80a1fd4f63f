// Package directory defines the remote lookups against the accounting
// backends: organizations, employees, groups and attendance reports.
package directory

import (
	"context"
	"errors"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Sentinel errors for directory operations
var (
	ErrUnknownTenant     = errors.New("unknown tenant")
	ErrRemoteUnavailable = errors.New("remote backend unavailable")
	ErrTransfer          = errors.New("report transfer failed")
	ErrMalformedResponse = errors.New("malformed backend response")
)

// Client performs lookups and report transfers against the tenant backends.
//
// FindOrgs scans every tenant and never fails because one of them is down:
// an outage is logged and the scan continues, so "none found" and "all
// tenants down" both yield an empty result. Tenant-scoped operations surface
// their failures.
type Client interface {
	FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error)

	// FindPerson returns found=false when no employee matches.
	FindPerson(ctx context.Context, tenantKey string, orgRef int64, name models.PersonName) (ref int64, found bool, err error)

	// ListGroups returns the active group codes; empty means none.
	ListGroups(ctx context.Context, tenantKey string, orgRef int64) ([]string, error)

	// FetchReport returns the current attendance report for a group, decoded.
	FetchReport(ctx context.Context, tenantKey string, orgRef int64, groupCode string) (*models.Report, error)

	// SubmitReport uploads a report and returns the backend's result message.
	SubmitReport(ctx context.Context, tenantKey string, companyRef int64, report *models.Report) (string, error)

	Close()
}
