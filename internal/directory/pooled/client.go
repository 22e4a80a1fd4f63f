// Package pooled implements directory.Client over one PostgreSQL pool per
// tenant, calling the accounting procedures directly.
package pooled

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/codec"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/pgpool"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/parusinf/timesheets-parus-bot/internal/tenant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// Client implements directory.Client across every tenant backend.
type Client struct {
	keys     []string
	backends map[string]Backend
	down     map[string]error // registered tenants that failed to start

	now func() time.Time
}

var _ directory.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used to pick the report period.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client over already connected backends. Tenants are scanned
// in sorted key order.
func New(backends map[string]Backend, opts ...Option) *Client {
	c := &Client{
		backends: backends,
		down:     make(map[string]error),
		now:      time.Now,
	}
	for key := range backends {
		c.keys = append(c.keys, key)
	}
	slices.Sort(c.keys)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect creates a pool per registered tenant. A tenant whose pool cannot be
// established is logged and left out; its operations report ErrRemoteUnavailable.
func Connect(ctx context.Context, reg *tenant.Registry, acquireTimeout time.Duration, opts ...Option) *Client {
	backends := make(map[string]Backend)
	down := make(map[string]error)

	for _, key := range reg.Keys() {
		conn, _ := reg.Get(key)
		pool, err := pgpool.New(ctx, conn.PoolConfig())
		if err != nil {
			log.Error().Err(err).Str("tenant", key).Msg("Tenant backend unavailable, skipping")
			down[key] = err
			continue
		}
		backends[key] = NewPGBackend(pool, acquireTimeout)
	}

	c := New(backends, opts...)
	c.down = down

	log.Info().
		Int("tenants", len(backends)).
		Int("unavailable", len(down)).
		Msg("Connected tenant backends")

	return c
}

// FindOrgs scans every tenant in order and collects all matches. A failing
// tenant is logged and skipped.
func (c *Client) FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error) {
	logger := zerolog.Ctx(ctx)
	var result []models.Organization

	for _, key := range c.keys {
		start := time.Now()
		orgs, err := c.backends[key].FindOrgs(ctx, taxID)
		observe(ctx, key, "find_orgs", start, err)
		if err != nil {
			logger.Warn().Err(err).Str("tenant", key).Str("tax_id", taxID).Msg("Tenant lookup failed, continuing scan")
			continue
		}

		for _, org := range orgs {
			org.TenantKey = key
			org.TaxID = taxID
			result = append(result, org)
		}
	}

	logger.Debug().Str("tax_id", taxID).Int("found", len(result)).Msg("Scanned tenants")

	return result, nil
}

// FindPerson resolves an employee by name inside an org.
func (c *Client) FindPerson(ctx context.Context, tenantKey string, orgRef int64, name models.PersonName) (int64, bool, error) {
	b, err := c.backend(tenantKey)
	if err != nil {
		return 0, false, err
	}

	start := time.Now()
	ref, found, err := b.FindPerson(ctx, orgRef, name)
	observe(ctx, tenantKey, "find_person", start, err)
	if err != nil {
		return 0, false, fmt.Errorf("tenant %s: find person: %w", tenantKey, err)
	}
	return ref, found, nil
}

// ListGroups returns the active group codes of an org.
func (c *Client) ListGroups(ctx context.Context, tenantKey string, orgRef int64) ([]string, error) {
	b, err := c.backend(tenantKey)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	groups, err := b.ListGroups(ctx, orgRef)
	observe(ctx, tenantKey, "list_groups", start, err)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: list groups: %w", tenantKey, err)
	}
	return groups, nil
}

// FetchReport returns the current period's report for a group, decoded.
func (c *Client) FetchReport(ctx context.Context, tenantKey string, orgRef int64, groupCode string) (*models.Report, error) {
	b, err := c.backend(tenantKey)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	filename, raw, err := b.FetchReport(ctx, orgRef, groupCode, c.now())
	observe(ctx, tenantKey, "fetch_report", start, err)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: fetch report: %w", tenantKey, err)
	}

	text, err := codec.DecodeCP1251(raw)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: fetch report: %w: %w", tenantKey, directory.ErrMalformedResponse, err)
	}

	return &models.Report{Filename: filename, Text: text}, nil
}

// SubmitReport encodes and uploads a report.
func (c *Client) SubmitReport(ctx context.Context, tenantKey string, companyRef int64, rep *models.Report) (string, error) {
	b, err := c.backend(tenantKey)
	if err != nil {
		return "", err
	}

	raw, err := codec.EncodeCP1251(rep.Text)
	if err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w: %w", tenantKey, directory.ErrTransfer, err)
	}

	start := time.Now()
	result, err := b.SubmitReport(ctx, companyRef, raw)
	observe(ctx, tenantKey, "submit_report", start, err)
	if err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w", tenantKey, err)
	}
	return result, nil
}

// Close closes every tenant pool.
func (c *Client) Close() {
	for _, key := range c.keys {
		c.backends[key].Close()
	}
}

func (c *Client) backend(tenantKey string) (Backend, error) {
	if b, ok := c.backends[tenantKey]; ok {
		return b, nil
	}
	if err, ok := c.down[tenantKey]; ok {
		return nil, fmt.Errorf("tenant %s: %w: %w", tenantKey, directory.ErrRemoteUnavailable, err)
	}
	return nil, fmt.Errorf("%w: %s", directory.ErrUnknownTenant, tenantKey)
}

func observe(ctx context.Context, tenantKey, operation string, start time.Time, err error) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(
		telemetry.AttrTenant.String(tenantKey),
		telemetry.AttrOperation.String(operation),
	)

	m.RemoteCallsTotal.Add(ctx, 1, attrs)
	m.RemoteDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		m.RemoteErrorsTotal.Add(ctx, 1, attrs)
	}
}
