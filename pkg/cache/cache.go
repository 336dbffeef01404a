// Package cache is the local artifact cache: payloads on disk, identities
// and content hashes indexed in SQLite. It backs the local-cache feed and
// the build short-circuit that skips the external packaging process when an
// identical artifact already exists.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/version"
)

// Cache stores immutable artifacts keyed by (name, version). The same
// identity never maps to two different payloads; a hash mismatch on Put is
// a conflict, never an overwrite.
type Cache struct {
	dir    string
	ix     *index
	logger zerolog.Logger

	// Per-identity build locks. At most one concurrent build per identity.
	locks sync.Map
}

// Open initializes a cache rooted at dir, creating the directory and the
// SQLite index as needed.
func Open(ctx context.Context, dir string, logger zerolog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	ix := newIndex(filepath.Join(dir, "index.db"))
	if err := ix.Init(ctx); err != nil {
		return nil, err
	}

	return &Cache{
		dir:    dir,
		ix:     ix,
		logger: logger.With().Str("component", "package-cache").Logger(),
	}, nil
}

// Close releases the index database.
func (c *Cache) Close() error {
	return c.ix.Close()
}

// Put stores a package. Returns true when the artifact was written, false
// when an identical artifact already existed (idempotent no-op). A cached
// entry with the same identity but a different content hash fails with a
// conflict carrying CodeVersionConflict.
func (c *Cache) Put(ctx context.Context, pkg *artifact.Package) (bool, error) {
	existing, err := c.ix.get(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.ContentHash == pkg.ContentHash {
			c.logger.Debug().
				Str("package", pkg.Identity.String()).
				Msg("Package already cached, skipping write")
			return false, nil
		}
		return false, errdefs.NewConflict(
			fmt.Sprintf("package %s already cached with different content", pkg.Identity), nil).
			WithCode(errdefs.CodeVersionConflict).
			WithResource(pkg.Identity.String()).
			WithDetail("cachedHash", existing.ContentHash).
			WithDetail("incomingHash", pkg.ContentHash)
	}

	path := filepath.Join(c.dir, pkg.Filename())
	if err := os.WriteFile(path, pkg.Payload, 0o644); err != nil {
		return false, fmt.Errorf("writing artifact: %w", err)
	}

	entry := &Entry{
		Name:        pkg.Name,
		Version:     pkg.Version,
		ContentHash: pkg.ContentHash,
		FilePath:    path,
		SizeBytes:   int64(len(pkg.Payload)),
		CreatedAt:   time.Now(),
	}
	if err := c.ix.insert(ctx, entry); err != nil {
		_ = os.Remove(path)
		return false, err
	}

	c.logger.Info().
		Str("package", pkg.Identity.String()).
		Int64("size", entry.SizeBytes).
		Msg("Package cached")
	return true, nil
}

// Get loads a cached package with its payload, or nil when absent.
func (c *Cache) Get(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	entry, err := c.ix.get(ctx, id.Name, id.Version)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	payload, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading cached artifact %s: %w", id, err)
	}
	if got := artifact.HashPayload(payload); got != entry.ContentHash {
		return nil, errdefs.NewConflict(
			fmt.Sprintf("cached artifact %s does not match its index hash", id), nil).
			WithCode(errdefs.CodeVersionConflict).
			WithResource(id.String())
	}

	pkg, err := artifact.New(entry.Name, entry.Version, payload)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// Contains reports whether an identity is cached and whether its content
// hash matches the given hash.
func (c *Cache) Contains(ctx context.Context, id artifact.Identity, contentHash string) (present, identical bool, err error) {
	entry, err := c.ix.get(ctx, id.Name, id.Version)
	if err != nil {
		return false, false, err
	}
	if entry == nil {
		return false, false, nil
	}
	return true, entry.ContentHash == contentHash, nil
}

// Versions returns the cached versions of a package name.
func (c *Cache) Versions(ctx context.Context, name string) ([]version.Version, error) {
	raw, err := c.ix.versions(ctx, name)
	if err != nil {
		return nil, err
	}

	var versions []version.Version
	for _, r := range raw {
		v, err := version.Parse(r)
		if err != nil {
			// Unparseable index rows are skipped rather than failing reads.
			c.logger.Warn().Str("name", name).Str("version", r).Msg("Skipping unparseable cached version")
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// List returns all cached entries.
func (c *Cache) List(ctx context.Context) ([]*Entry, error) {
	return c.ix.list(ctx)
}

// Remove evicts an identity from the cache.
func (c *Cache) Remove(ctx context.Context, id artifact.Identity) error {
	entry, err := c.ix.get(ctx, id.Name, id.Version)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if err := c.ix.delete(ctx, id.Name, id.Version); err != nil {
		return err
	}
	if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cached artifact: %w", err)
	}
	return nil
}

// LockIdentity acquires the per-identity build lock and returns its release
// function. Two concurrent builds of the same (name, version) serialize
// here so the external packaging process runs at most once.
func (c *Cache) LockIdentity(id artifact.Identity) func() {
	v, _ := c.locks.LoadOrStore(id.Key(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
