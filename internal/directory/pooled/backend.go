package pooled

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Backend runs the fixed procedure contract against a single tenant.
// Raw report bytes are CP1251; the Client converts them.
type Backend interface {
	FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error)
	FindPerson(ctx context.Context, orgRef int64, name models.PersonName) (int64, bool, error)
	ListGroups(ctx context.Context, orgRef int64) ([]string, error)
	FetchReport(ctx context.Context, orgRef int64, groupCode string, period time.Time) (filename string, raw []byte, err error)
	SubmitReport(ctx context.Context, companyRef int64, raw []byte) (string, error)
	Close()
}

const (
	findOrgsSQL = `SELECT org_rn, org_code, agent_name, company_rn, company_agent_name
		FROM udo_find_psorg_by_inn($1)`
	findPersonSQL   = `SELECT udo_find_person_by_fio($1, $2, $3, $4)`
	listGroupsSQL   = `SELECT udo_p_psorg_get_groups($1)`
	fetchReportSQL  = `SELECT file_name, file_content FROM udo_p_send_timesheet($1, $2, $3)`
	submitReportSQL = `SELECT udo_p_receive_timesheet($1, $2)`

	groupDelimiter = ";"
)

// PGBackend implements Backend on a pgx connection pool. A call never waits
// for a connection held by another call: with every connection checked out it
// fails at once with ErrRemoteUnavailable. The acquire timeout only bounds
// opening a new connection.
type PGBackend struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// ErrPoolExhausted is wrapped with ErrRemoteUnavailable when every pool
// connection is in use.
var ErrPoolExhausted = errors.New("tenant pool exhausted")

// NewPGBackend wraps a tenant pool.
func NewPGBackend(pool *pgxpool.Pool, acquireTimeout time.Duration) *PGBackend {
	return &PGBackend{pool: pool, acquireTimeout: acquireTimeout}
}

func exhausted(acquired, max int32) bool {
	return max > 0 && acquired >= max
}

func (b *PGBackend) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	stat := b.pool.Stat()
	if exhausted(stat.AcquiredConns(), stat.MaxConns()) {
		return nil, fmt.Errorf("%w: %w (%d connections)", directory.ErrRemoteUnavailable, ErrPoolExhausted, stat.MaxConns())
	}

	if b.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.acquireTimeout)
		defer cancel()
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", directory.ErrRemoteUnavailable, err)
	}
	return conn, nil
}

// FindOrgs returns every org registered under the tax id in this tenant.
func (b *PGBackend) FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, findOrgsSQL, taxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, err)
	}

	orgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Organization, error) {
		var (
			orgRef, companyRef      *int64
			code, name, companyName *string
		)
		if err := row.Scan(&orgRef, &code, &name, &companyRef, &companyName); err != nil {
			return models.Organization{}, err
		}
		if orgRef == nil {
			return models.Organization{}, nil
		}
		return models.Organization{
			OrgRef:      *orgRef,
			Code:        deref(code),
			Name:        deref(name),
			CompanyRef:  derefInt(companyRef),
			CompanyName: deref(companyName),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrMalformedResponse, err)
	}

	// A procedure that found nothing may still emit one row of NULLs
	found := orgs[:0]
	for _, org := range orgs {
		if org.OrgRef != 0 {
			org.TaxID = taxID
			found = append(found, org)
		}
	}

	return found, nil
}

// FindPerson resolves an employee by name inside an org.
func (b *PGBackend) FindPerson(ctx context.Context, orgRef int64, name models.PersonName) (int64, bool, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return 0, false, err
	}
	defer conn.Release()

	var ref *int64
	if err := conn.QueryRow(ctx, findPersonSQL, orgRef, name.Family, name.First, name.Middle).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, err)
	}

	if ref == nil {
		return 0, false, nil
	}
	return *ref, true, nil
}

// ListGroups returns the active group codes of an org.
func (b *PGBackend) ListGroups(ctx context.Context, orgRef int64) ([]string, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var joined *string
	if err := conn.QueryRow(ctx, listGroupsSQL, orgRef).Scan(&joined); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, err)
	}

	if joined == nil {
		return nil, nil
	}
	return splitGroups(*joined), nil
}

// FetchReport returns the report for a group and period as CP1251 bytes.
func (b *PGBackend) FetchReport(ctx context.Context, orgRef int64, groupCode string, period time.Time) (string, []byte, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	defer conn.Release()

	var (
		filename *string
		raw      []byte
	)
	if err := conn.QueryRow(ctx, fetchReportSQL, orgRef, groupCode, period).Scan(&filename, &raw); err != nil {
		return "", nil, fmt.Errorf("%w: %w", directory.ErrTransfer, err)
	}

	if filename == nil || *filename == "" {
		return "", nil, fmt.Errorf("%w: report without file name", directory.ErrMalformedResponse)
	}
	return *filename, raw, nil
}

// SubmitReport uploads CP1251 report bytes and commits.
func (b *PGBackend) SubmitReport(ctx context.Context, companyRef int64, raw []byte) (string, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %w", directory.ErrTransfer, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var result *string
	if err := tx.QueryRow(ctx, submitReportSQL, companyRef, raw).Scan(&result); err != nil {
		return "", fmt.Errorf("%w: %w", directory.ErrTransfer, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: commit: %w", directory.ErrTransfer, err)
	}

	if result == nil {
		return "", nil
	}
	return *result, nil
}

// Close closes the tenant pool.
func (b *PGBackend) Close() {
	b.pool.Close()
}

func splitGroups(joined string) []string {
	var groups []string
	for _, g := range strings.Split(joined, groupDelimiter) {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
