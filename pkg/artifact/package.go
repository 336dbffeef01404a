// Package artifact defines the immutable package artifact model: the
// (name, version) identity, the sha256 content fingerprint used for
// conflict detection, and the manifest embedded in an artifact payload.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/coordtech/packline/pkg/version"
)

// Identity is the globally unique (name, version) pair of a package.
// Once a package with an identity exists anywhere it is never overwritten.
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String returns the canonical name@version form.
func (id Identity) String() string {
	return fmt.Sprintf("%s@%s", id.Name, id.Version)
}

// Key returns a case-normalized map key. Package names are compared
// case-insensitively, matching feed behavior.
func (id Identity) Key() string {
	return strings.ToLower(id.Name) + "@" + id.Version
}

// Filename returns the conventional artifact file name.
func (id Identity) Filename() string {
	return fmt.Sprintf("%s.%s.nupkg", id.Name, id.Version)
}

// Dependency is a reference to another package by name and version range.
type Dependency struct {
	Name string        `json:"name"`
	Spec string        `json:"spec"`
	Rng  version.Range `json:"-"`
}

// Package is an immutable artifact: identity, payload, content hash, and
// the dependencies declared in its manifest.
type Package struct {
	Identity
	Payload      []byte       `json:"-"`
	ContentHash  string       `json:"contentHash"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// New builds a Package from a payload, computing the content hash and
// extracting declared dependencies from the embedded manifest.
func New(name, ver string, payload []byte) (*Package, error) {
	p := &Package{
		Identity:    Identity{Name: name, Version: ver},
		Payload:     payload,
		ContentHash: HashPayload(payload),
	}

	m, err := ReadManifest(payload)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", p.Identity, err)
	}
	p.Dependencies = m.Dependencies
	return p, nil
}

// HashPayload returns the hex-encoded sha256 fingerprint of a payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// officialPrefixes identify platform packages that are served from public
// feeds and are excluded from closure traversal.
var officialPrefixes = []string{
	"UiPath.",
	"System.",
	"Microsoft.",
	"Newtonsoft.",
	"NuGet.",
}

// IsOfficial reports whether a package name belongs to the platform
// namespace rather than the organization's own packages.
func IsOfficial(name string) bool {
	for _, p := range officialPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
