package feeds

import (
	"context"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/cache"
	"github.com/coordtech/packline/pkg/version"
)

// LocalFeed exposes the local artifact cache as the highest-priority feed.
type LocalFeed struct {
	id    string
	cache *cache.Cache
	dir   string
}

// NewLocalFeed wraps the cache under the given identifier.
func NewLocalFeed(id string, c *cache.Cache, dir string) *LocalFeed {
	return &LocalFeed{id: id, cache: c, dir: dir}
}

func (f *LocalFeed) Identifier() string { return f.id }
func (f *LocalFeed) Kind() Kind         { return KindLocalCache }

func (f *LocalFeed) Versions(ctx context.Context, name string) ([]version.Version, error) {
	return f.cache.Versions(ctx, name)
}

func (f *LocalFeed) Fetch(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	return f.cache.Get(ctx, id)
}

// Source points the packaging process at the cache directory.
func (f *LocalFeed) Source() Source {
	return Source{URL: f.dir}
}
