// Package version implements semantic version handling for package
// identities and NuGet-style version range constraints as declared in
// project descriptors and package manifests.
package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed package version. Comparison and range matching are
// delegated to semver; a fourth numeric component (legacy four-part
// versions) is kept as a revision tie-break so ordering stays total.
type Version struct {
	v        *semver.Version
	revision int
	raw      string
}

// Parse parses a version string. Three-part semantic versions with optional
// pre-release suffixes are accepted, as are legacy four-part versions.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	if v, err := semver.NewVersion(s); err == nil {
		return Version{v: v, raw: s}, nil
	}

	// Legacy four-part version: fold the fourth component into a revision.
	parts := strings.SplitN(s, ".", 4)
	if len(parts) == 4 {
		rev, err := strconv.Atoi(parts[3])
		if err == nil {
			base, berr := semver.NewVersion(strings.Join(parts[:3], "."))
			if berr == nil {
				return Version{v: base, revision: rev, raw: s}, nil
			}
		}
	}

	return Version{}, fmt.Errorf("invalid version %q", s)
}

// MustParse parses a version string and panics on failure. For tests and
// literals only.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the original version string.
func (v Version) String() string { return v.raw }

// IsZero reports whether the version is the zero value.
func (v Version) IsZero() bool { return v.v == nil }

// Compare returns -1, 0, or 1 depending on whether v is less than, equal
// to, or greater than o.
func (v Version) Compare(o Version) int {
	if c := v.v.Compare(o.v); c != 0 {
		return c
	}
	switch {
	case v.revision < o.revision:
		return -1
	case v.revision > o.revision:
		return 1
	}
	return 0
}

// LessThan reports whether v orders before o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Sort orders versions ascending in place.
func Sort(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[i].LessThan(versions[j]) })
}

// SortDescending orders versions newest-first in place.
func SortDescending(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[j].LessThan(versions[i]) })
}
