package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/version"
)

// Client is the REST client for one tenant. It implements the tenant feed
// source used by resolution and migration.
type Client struct {
	tenant Tenant
	http   *http.Client
	logger zerolog.Logger

	// mu guards the token lease and the latched auth failure. Refresh is
	// exclusive per tenant.
	mu      sync.Mutex
	lease   lease
	authErr error
}

// NewClient creates a client for the tenant.
func NewClient(tenant Tenant, logger zerolog.Logger) *Client {
	return &Client{
		tenant: tenant,
		http:   &http.Client{Timeout: 120 * time.Second},
		logger: logger.With().
			Str("component", "orchestrator-client").
			Str("tenant", tenant.String()).
			Logger(),
	}
}

// Tenant returns the tenant this client talks to.
func (c *Client) Tenant() Tenant { return c.tenant }

// Authenticate eagerly acquires a token so callers can fail a whole batch
// before any work starts when credentials are bad.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.ensureToken(ctx)
	return err
}

// TenantName implements the tenant feed source.
func (c *Client) TenantName() string { return c.tenant.Name }

// FeedURL returns the tenant's package feed base URL.
func (c *Client) FeedURL() string {
	return fmt.Sprintf("%s/%s/%s/orchestrator_/nuget/v3/index.json",
		strings.TrimRight(c.tenant.BaseURL, "/"), c.tenant.OrgName, c.tenant.Name)
}

func (c *Client) odataURL(path string) string {
	return fmt.Sprintf("%s/%s/%s/orchestrator_/odata/%s",
		strings.TrimRight(c.tenant.BaseURL, "/"), c.tenant.OrgName, c.tenant.Name, path)
}

// Upload publishes a package to the tenant feed. Returns PublishCreated on
// 201, PublishAlreadyExists on an idempotent 200, and a conflict error
// carrying CodeVersionConflict on 409 (same identity, different content).
// The package is never overwritten.
func (c *Client) Upload(ctx context.Context, pkg *artifact.Package) (PublishStatus, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", pkg.Filename())
	if err != nil {
		return "", fmt.Errorf("building upload body: %w", err)
	}
	if _, err := fw.Write(pkg.Payload); err != nil {
		return "", fmt.Errorf("building upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload body: %w", err)
	}

	endpoint := c.odataURL("Processes/UiPath.Server.Configuration.OData.UploadPackage")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.transient("upload", pkg.Identity.String(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info().Str("package", pkg.Identity.String()).Msg("Package uploaded")
		return PublishCreated, nil
	case http.StatusOK:
		c.logger.Debug().Str("package", pkg.Identity.String()).Msg("Package already published")
		return PublishAlreadyExists, nil
	case http.StatusConflict:
		return "", errdefs.NewConflict(
			fmt.Sprintf("package %s already published with different content", pkg.Identity), nil).
			WithCode(errdefs.CodeVersionConflict).
			WithResource(pkg.Identity.String()).
			WithOperation("upload")
	default:
		return "", c.statusError("upload", pkg.Identity.String(), resp)
	}
}

// PackageVersions lists all published versions of a package name via the
// library versions endpoint. Unknown names return an empty list.
func (c *Client) PackageVersions(ctx context.Context, name string) ([]version.Version, error) {
	endpoint := c.odataURL(fmt.Sprintf(
		"Libraries/UiPath.Server.Configuration.OData.GetVersions(packageId='%s')",
		url.PathEscape(name)))

	var payload struct {
		Value []json.RawMessage `json:"value"`
	}
	status, err := c.getJSON(ctx, "listVersions", name, endpoint, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	// Entries are either bare version strings or objects with a Version
	// field depending on server version.
	var versions []version.Version
	for _, raw := range payload.Value {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var obj struct {
				Version string `json:"Version"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil || obj.Version == "" {
				continue
			}
			s = obj.Version
		}
		v, err := version.Parse(s)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// ListPackages enumerates the identities on the tenant feed.
func (c *Client) ListPackages(ctx context.Context) ([]artifact.Identity, error) {
	endpoint := c.odataURL("Libraries") + "?$select=Id,Version&$orderby=Id%20asc"

	var payload struct {
		Value []struct {
			ID      string `json:"Id"`
			Version string `json:"Version"`
		} `json:"value"`
	}
	status, err := c.getJSON(ctx, "list", c.tenant.String(), endpoint, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	ids := make([]artifact.Identity, 0, len(payload.Value))
	for _, v := range payload.Value {
		ids = append(ids, artifact.Identity{Name: v.ID, Version: v.Version})
	}
	return ids, nil
}

// HasPackage reports whether an exact identity is published on the tenant.
func (c *Client) HasPackage(ctx context.Context, id artifact.Identity) (bool, error) {
	want, err := version.Parse(id.Version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", id.Version, err)
	}
	versions, err := c.PackageVersions(ctx, id.Name)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v.Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

// DownloadPackage fetches an artifact payload from the tenant feed, or nil
// when the identity is not published.
func (c *Client) DownloadPackage(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.odataURL(fmt.Sprintf(
		"Processes/UiPath.Server.Configuration.OData.DownloadPackage(key='%s',version='%s')",
		url.PathEscape(id.Name), url.PathEscape(id.Version)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transient("download", id.String(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	default:
		return nil, c.statusError("download", id.String(), resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transient("download", id.String(), err)
	}
	return artifact.New(id.Name, id.Version, payload)
}

func (c *Client) getJSON(ctx context.Context, op, resource, endpoint string, out interface{}) (int, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.transient(op, resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, c.statusError(op, resource, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, c.transient(op, resource, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, errdefs.NewTransient("parsing response", err).
			WithResource(resource).
			WithOperation(op)
	}
	return resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-UIPATH-TenantName", c.tenant.Name)
}

func (c *Client) transient(op, resource string, err error) error {
	return errdefs.NewTransient("request failed", err).
		WithResource(resource).
		WithOperation(op)
}

// statusError maps non-success responses to the error taxonomy: 401/403
// latch as auth failures, 429 throttles, 5xx are transient, remaining 4xx
// are permanent.
func (c *Client) statusError(op, resource string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		err := errdefs.NewPermanent(
			fmt.Sprintf("request rejected (status %d)", resp.StatusCode), nil).
			WithCode(errdefs.CodeAuthenticationFailed).
			WithResource(resource).
			WithOperation(op)
		c.mu.Lock()
		c.authErr = err
		c.lease = lease{}
		c.mu.Unlock()
		return err
	case resp.StatusCode == http.StatusTooManyRequests:
		return errdefs.NewThrottled("rate limited", nil).
			WithCode(errdefs.CodeRateLimited).
			WithResource(resource).
			WithOperation(op)
	case resp.StatusCode >= 500:
		return errdefs.NewTransient(
			fmt.Sprintf("server error (status %d)", resp.StatusCode), nil).
			WithResource(resource).
			WithOperation(op).
			WithDetail("body", string(body))
	default:
		return errdefs.NewPermanent(
			fmt.Sprintf("request failed (status %d)", resp.StatusCode), nil).
			WithResource(resource).
			WithOperation(op).
			WithDetail("body", string(body))
	}
}
