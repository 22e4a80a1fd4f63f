// Package proxy implements directory.Client against the HTTP web service that
// fronts the accounting backends.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/codec"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// noneSentinel is the proxy's text for an absent value.
const noneSentinel = "None"

const maxResponseBytes = 16 << 20

// Client implements directory.Client over the proxy's HTTP endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	maxBody int64
}

var _ directory.Client = (*Client)(nil)

// org is the proxy's JSON shape of an organization.
type org struct {
	TenantKey   string `json:"db_key"`
	TaxID       string `json:"org_inn"`
	OrgRef      int64  `json:"org_rn"`
	Code        string `json:"org_code"`
	Name        string `json:"org_name"`
	CompanyRef  int64  `json:"company_rn"`
	CompanyName string `json:"company_name"`
}

// New creates a proxy client. The token becomes the last base path segment.
func New(serviceURL, token string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(serviceURL, "/") + "/" + url.PathEscape(token),
		http:    httpClient,
		maxBody: maxResponseBytes,
	}
}

// FindOrgs asks the proxy to scan every tenant. Proxy failures are logged and
// reported as no matches.
func (c *Client) FindOrgs(ctx context.Context, taxID string) ([]models.Organization, error) {
	body, err := c.get(ctx, "get_orgs", url.Values{"org_inn": {taxID}})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("tax_id", taxID).Msg("Proxy org lookup failed")
		return nil, nil
	}

	text := strings.TrimSpace(string(body))
	if text == "" || text == noneSentinel {
		return nil, nil
	}

	var found []org
	if err := json.Unmarshal([]byte(text), &found); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("tax_id", taxID).Msg("Proxy returned malformed org list")
		return nil, nil
	}

	orgs := make([]models.Organization, 0, len(found))
	for _, o := range found {
		orgs = append(orgs, models.Organization{
			TenantKey:   o.TenantKey,
			Code:        o.Code,
			TaxID:       taxID,
			Name:        o.Name,
			CompanyRef:  o.CompanyRef,
			CompanyName: o.CompanyName,
			OrgRef:      o.OrgRef,
		})
	}
	return orgs, nil
}

// FindPerson resolves an employee by name inside an org.
func (c *Client) FindPerson(ctx context.Context, tenantKey string, orgRef int64, name models.PersonName) (int64, bool, error) {
	middle := noneSentinel
	if name.Middle != nil {
		middle = *name.Middle
	}

	body, err := c.get(ctx, "get_person", url.Values{
		"db_key":    {tenantKey},
		"org_rn":    {strconv.FormatInt(orgRef, 10)},
		"family":    {name.Family},
		"firstname": {name.First},
		"lastname":  {middle},
	})
	if err != nil {
		return 0, false, fmt.Errorf("tenant %s: find person: %w", tenantKey, err)
	}

	text := strings.TrimSpace(string(body))
	if text == "" || text == noneSentinel {
		return 0, false, nil
	}

	ref, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("tenant %s: find person: %w: %q", tenantKey, directory.ErrMalformedResponse, text)
	}
	return ref, true, nil
}

// ListGroups returns the active group codes of an org.
func (c *Client) ListGroups(ctx context.Context, tenantKey string, orgRef int64) ([]string, error) {
	body, err := c.get(ctx, "get_groups", url.Values{
		"db_key": {tenantKey},
		"org_rn": {strconv.FormatInt(orgRef, 10)},
	})
	if err != nil {
		return nil, fmt.Errorf("tenant %s: list groups: %w", tenantKey, err)
	}

	text := strings.TrimSpace(string(body))
	if text == "" || text == noneSentinel {
		return nil, nil
	}

	var groups []string
	for _, g := range strings.Split(text, ";") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// FetchReport downloads the report for a group. The response is multipart
// with a single part carrying the URL-escaped file name.
func (c *Client) FetchReport(ctx context.Context, tenantKey string, orgRef int64, groupCode string) (*models.Report, error) {
	start := time.Now()
	rep, err := c.fetchReport(ctx, tenantKey, orgRef, groupCode)
	observe(ctx, "receive_timesheet", start, err)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: fetch report: %w", tenantKey, err)
	}
	return rep, nil
}

func (c *Client) fetchReport(ctx context.Context, tenantKey string, orgRef int64, groupCode string) (*models.Report, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "receive_timesheet", url.Values{
		"db_key": {tenantKey},
		"org_rn": {strconv.FormatInt(orgRef, 10)},
		"group":  {groupCode},
	}, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", directory.ErrTransfer, resp.Status)
	}

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, fmt.Errorf("%w: response is not multipart", directory.ErrMalformedResponse)
	}

	part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrMalformedResponse, err)
	}
	defer part.Close()

	filename, err := url.QueryUnescape(part.FileName())
	if err != nil || filename == "" {
		return nil, fmt.Errorf("%w: report without file name", directory.ErrMalformedResponse)
	}

	raw, err := c.readBody(part)
	if err != nil {
		return nil, fmt.Errorf("%w: report %s: %w", directory.ErrTransfer, filename, err)
	}

	text, err := codec.DecodeCP1251(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrMalformedResponse, err)
	}

	return &models.Report{Filename: filename, Text: text}, nil
}

// SubmitReport uploads a report as a multipart "package" part.
func (c *Client) SubmitReport(ctx context.Context, tenantKey string, companyRef int64, rep *models.Report) (string, error) {
	raw, err := codec.EncodeCP1251(rep.Text)
	if err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w: %w", tenantKey, directory.ErrTransfer, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	pw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {mime.FormatMediaType("package", map[string]string{"filename": rep.Filename})},
		"Content-Type":        {"application/octet-stream"},
	})
	if err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w", tenantKey, err)
	}
	if _, err := pw.Write(raw); err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w", tenantKey, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w", tenantKey, err)
	}

	start := time.Now()
	result, err := c.submit(ctx, tenantKey, companyRef, mw.FormDataContentType(), &buf)
	observe(ctx, "send_timesheet", start, err)
	if err != nil {
		return "", fmt.Errorf("tenant %s: submit report: %w", tenantKey, err)
	}
	return result, nil
}

func (c *Client) submit(ctx context.Context, tenantKey string, companyRef int64, contentType string, body io.Reader) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "send_timesheet", url.Values{
		"db_key":     {tenantKey},
		"company_rn": {strconv.FormatInt(companyRef, 10)},
	}, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", directory.ErrTransfer, err)
	}
	defer resp.Body.Close()

	result, err := c.readBody(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", directory.ErrTransfer, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: %s", directory.ErrTransfer, resp.Status, strings.TrimSpace(string(result)))
	}

	return strings.TrimSpace(string(result)), nil
}

var errBodyTooLarge = errors.New("response body exceeds size limit")

// readBody reads r whole, failing rather than truncating past maxBody.
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w (%d bytes)", errBodyTooLarge, c.maxBody)
	}
	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	start := time.Now()
	body, err := c.doGet(ctx, endpoint, query)
	observe(ctx, endpoint, start, err)
	return body, err
}

func (c *Client) doGet(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if errors.Is(err, errBodyTooLarge) {
		return nil, fmt.Errorf("%w: %s: %w", directory.ErrMalformedResponse, endpoint, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s %s", directory.ErrRemoteUnavailable, endpoint, resp.Status)
	}

	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + "/" + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	return req, nil
}

func observe(ctx context.Context, operation string, start time.Time, err error) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(
		telemetry.AttrTenant.String("proxy"),
		telemetry.AttrOperation.String(operation),
	)

	m.RemoteCallsTotal.Add(ctx, 1, attrs)
	m.RemoteDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		m.RemoteErrorsTotal.Add(ctx, 1, attrs)
	}
}
