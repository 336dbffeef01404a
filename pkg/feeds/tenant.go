package feeds

import (
	"context"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/version"
)

// TenantFeed adapts a tenant's orchestrator client into the Feed interface.
// The feed inherits the tenant's token lease; it carries no credential of
// its own.
type TenantFeed struct {
	source TenantSource
}

// NewTenantFeed derives a feed from a tenant source.
func NewTenantFeed(source TenantSource) *TenantFeed {
	return &TenantFeed{source: source}
}

// Identifier is "tenant:<name>"; one feed per tenant.
func (f *TenantFeed) Identifier() string { return "tenant:" + f.source.TenantName() }
func (f *TenantFeed) Kind() Kind         { return KindTenant }

func (f *TenantFeed) Versions(ctx context.Context, name string) ([]version.Version, error) {
	return f.source.PackageVersions(ctx, name)
}

func (f *TenantFeed) Fetch(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	return f.source.DownloadPackage(ctx, id)
}

// List enumerates the identities published on the tenant feed.
func (f *TenantFeed) List(ctx context.Context) ([]artifact.Identity, error) {
	return f.source.ListPackages(ctx)
}

// Source exposes the tenant feed URL. Authentication rides on the
// tenant's token, which never appears here.
func (f *TenantFeed) Source() Source {
	return Source{URL: f.source.FeedURL()}
}
