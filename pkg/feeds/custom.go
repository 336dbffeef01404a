package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/version"
)

// CustomFeed queries an organizational HTTP package feed. The feed is a
// read-only index: versions by name, payload by identity.
type CustomFeed struct {
	id         string
	baseURL    string
	credential *Credential
	client     *http.Client
}

// NewCustomFeed creates a feed client for baseURL. credential may be nil
// for anonymous feeds.
func NewCustomFeed(id, baseURL string, credential *Credential) *CustomFeed {
	return &CustomFeed{
		id:         id,
		baseURL:    baseURL,
		credential: credential,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *CustomFeed) Identifier() string { return f.id }
func (f *CustomFeed) Kind() Kind         { return KindCustom }

func (f *CustomFeed) Source() Source {
	return Source{URL: f.baseURL, Credential: f.credential}
}

// Versions queries the feed index for a package name. Absent packages
// return an empty list; network and server failures return a transient
// error carrying CodeFeedUnavailable for the caller to retry.
func (f *CustomFeed) Versions(ctx context.Context, name string) ([]version.Version, error) {
	endpoint := fmt.Sprintf("%s/index/%s", f.baseURL, url.PathEscape(name))
	body, status, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, f.unavailable("querying feed index", err)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, f.unavailable(fmt.Sprintf("feed index returned status %d", status), nil)
	}

	var index struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(body, &index); err != nil {
		return nil, errdefs.NewPermanent("parsing feed index response", err).
			WithResource(f.id)
	}

	var versions []version.Version
	for _, raw := range index.Versions {
		v, err := version.Parse(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// Fetch downloads a package payload by identity, or nil when absent.
func (f *CustomFeed) Fetch(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	endpoint := fmt.Sprintf("%s/package/%s/%s",
		f.baseURL, url.PathEscape(id.Name), url.PathEscape(id.Version))
	body, status, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, f.unavailable("downloading package", err)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, f.unavailable(fmt.Sprintf("feed download returned status %d", status), nil)
	}

	return artifact.New(id.Name, id.Version, body)
}

func (f *CustomFeed) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	if f.credential != nil {
		req.SetBasicAuth(f.credential.Username, f.credential.Secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (f *CustomFeed) unavailable(message string, err error) error {
	return errdefs.NewTransient(message, err).
		WithCode(errdefs.CodeFeedUnavailable).
		WithResource(f.id)
}
