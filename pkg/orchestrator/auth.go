package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coordtech/packline/pkg/errdefs"
)

// tokenSkew is subtracted from the lease expiry so tokens are refreshed
// before they lapse mid-request.
const tokenSkew = 60 * time.Second

const defaultScope = "OR.Default"

// lease is the tenant's access token and its expiry. Owned exclusively by
// the client; all access goes through ensureToken.
type lease struct {
	token     string
	expiresAt time.Time
}

func (l *lease) valid(now time.Time) bool {
	return l.token != "" && now.Before(l.expiresAt.Add(-tokenSkew))
}

// identityPath returns the identity server path segment. Cloud deployments
// mount the identity server under "identity_", on-prem under "identity".
func identityPath(baseURL string) string {
	if strings.Contains(baseURL, "cloud.uipath.com") {
		return "identity_"
	}
	return "identity"
}

// ensureToken returns a valid bearer token, performing the
// client-credentials exchange when the lease is absent or near expiry.
// Refresh is exclusive per tenant; concurrent callers wait rather than
// racing duplicate token requests. Once credentials are rejected, every
// call fails fast with the same error until ResetAuth.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authErr != nil {
		return "", c.authErr
	}
	if c.lease.valid(time.Now()) {
		return c.lease.token, nil
	}

	token, expiresIn, err := c.requestToken(ctx)
	if err != nil {
		if errdefs.IsPermanent(err) {
			// Credential rejection latches until corrected.
			c.authErr = err
		}
		return "", err
	}

	c.lease = lease{
		token:     token,
		expiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	c.logger.Debug().
		Str("tenant", c.tenant.String()).
		Time("expiresAt", c.lease.expiresAt).
		Msg("Access token acquired")
	return c.lease.token, nil
}

func (c *Client) requestToken(ctx context.Context) (string, int64, error) {
	tokenURL := fmt.Sprintf("%s/%s/connect/token",
		strings.TrimRight(c.tenant.BaseURL, "/"), identityPath(c.tenant.BaseURL))

	scope := c.tenant.Scope
	if scope == "" {
		scope = defaultScope
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.tenant.ClientID},
		"client_secret": {c.tenant.ClientSecret},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, errdefs.NewTransient("token endpoint unreachable", err).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, errdefs.NewTransient("reading token response", err).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusBadRequest:
		return "", 0, errdefs.NewPermanent(
			fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode), nil).
			WithCode(errdefs.CodeAuthenticationFailed).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", 0, errdefs.NewThrottled("token endpoint rate limited", nil).
			WithCode(errdefs.CodeRateLimited).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	default:
		return "", 0, errdefs.NewTransient(
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, errdefs.NewTransient("parsing token response", err).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	}
	if payload.AccessToken == "" {
		return "", 0, errdefs.NewPermanent("token response missing access_token", nil).
			WithCode(errdefs.CodeAuthenticationFailed).
			WithResource(c.tenant.String()).
			WithOperation("authenticate")
	}
	return payload.AccessToken, payload.ExpiresIn, nil
}

// ResetAuth clears a latched authentication failure, allowing the next
// call to retry the credential exchange.
func (c *Client) ResetAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authErr = nil
	c.lease = lease{}
}
