// Package feeds models named package sources: the local build cache, the
// organizational custom feed, and per-tenant orchestrator feeds. A registry
// resolves feed identifiers and derives tenant feeds from tenant clients.
package feeds

import (
	"context"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/version"
)

// Kind identifies the category of a feed. Resolution queries feeds in
// fixed kind priority: local-cache, then custom, then tenant.
type Kind string

const (
	KindLocalCache Kind = "local-cache"
	KindCustom     Kind = "custom"
	KindTenant     Kind = "tenant"
)

// priority maps feed kinds to their resolution precedence, lowest first.
var priority = map[Kind]int{
	KindLocalCache: 0,
	KindCustom:     1,
	KindTenant:     2,
}

// Priority returns the resolution precedence of a kind, lowest wins.
func (k Kind) Priority() int {
	p, ok := priority[k]
	if !ok {
		return len(priority)
	}
	return p
}

// Credential authenticates access to a feed. It is excluded from JSON
// serialization and stringification so it can never leak into reports
// or logs.
type Credential struct {
	Username string `json:"-"`
	Secret   string `json:"-"`
}

// String returns a redacted placeholder.
func (c Credential) String() string { return "[redacted]" }

// Source is the connection surface a feed exposes to the external
// packaging process: a URL plus an optional credential.
type Source struct {
	URL        string
	Credential *Credential
}

// Feed is a queryable package source.
type Feed interface {
	// Identifier is the unique registry name of the feed.
	Identifier() string

	// Kind returns the feed category.
	Kind() Kind

	// Versions lists the available versions of a package name. Transient
	// query failures return errors carrying CodeFeedUnavailable.
	Versions(ctx context.Context, name string) ([]version.Version, error)

	// Fetch retrieves a package with its payload, or nil when absent.
	Fetch(ctx context.Context, id artifact.Identity) (*artifact.Package, error)

	// Source returns the URL and credential handed to the external
	// packaging process as a dependency source.
	Source() Source
}

// TenantSource is the remote read surface a tenant feed wraps. It is
// implemented by the orchestrator client; tenant feeds are always derived
// from a tenant's credentials, never configured standalone.
type TenantSource interface {
	TenantName() string
	FeedURL() string
	PackageVersions(ctx context.Context, name string) ([]version.Version, error)
	ListPackages(ctx context.Context) ([]artifact.Identity, error)
	DownloadPackage(ctx context.Context, id artifact.Identity) (*artifact.Package, error)
}
