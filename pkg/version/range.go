package version

import (
	"fmt"
	"strings"
)

// Range is a NuGet-style version constraint as declared in project
// descriptors and package manifests:
//
//	1.2.3        minimum version, inclusive
//	[1.2.3]      exact version
//	[1.0,2.0)    1.0 <= v < 2.0
//	[1.0,)       v >= 1.0
//	(,2.0]       v <= 2.0
type Range struct {
	raw            string
	lower          Version
	upper          Version
	lowerInclusive bool
	upperInclusive bool
}

// ParseRange parses a version range specification.
func ParseRange(spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Range{}, fmt.Errorf("empty version range")
	}

	// Bare version: minimum, inclusive.
	if !strings.HasPrefix(spec, "[") && !strings.HasPrefix(spec, "(") {
		v, err := Parse(spec)
		if err != nil {
			return Range{}, fmt.Errorf("invalid version range %q: %w", spec, err)
		}
		return Range{raw: spec, lower: v, lowerInclusive: true}, nil
	}

	if len(spec) < 3 {
		return Range{}, fmt.Errorf("invalid version range %q", spec)
	}
	opening, closing := spec[0], spec[len(spec)-1]
	if (opening != '[' && opening != '(') || (closing != ']' && closing != ')') {
		return Range{}, fmt.Errorf("invalid version range %q", spec)
	}
	inner := spec[1 : len(spec)-1]

	// Exact version: [1.2.3]
	if !strings.Contains(inner, ",") {
		if opening != '[' || closing != ']' {
			return Range{}, fmt.Errorf("invalid version range %q: exact ranges must be inclusive", spec)
		}
		v, err := Parse(inner)
		if err != nil {
			return Range{}, fmt.Errorf("invalid version range %q: %w", spec, err)
		}
		return Range{raw: spec, lower: v, upper: v, lowerInclusive: true, upperInclusive: true}, nil
	}

	parts := strings.SplitN(inner, ",", 2)
	r := Range{
		raw:            spec,
		lowerInclusive: opening == '[',
		upperInclusive: closing == ']',
	}
	if lo := strings.TrimSpace(parts[0]); lo != "" {
		v, err := Parse(lo)
		if err != nil {
			return Range{}, fmt.Errorf("invalid version range %q: %w", spec, err)
		}
		r.lower = v
	}
	if hi := strings.TrimSpace(parts[1]); hi != "" {
		v, err := Parse(hi)
		if err != nil {
			return Range{}, fmt.Errorf("invalid version range %q: %w", spec, err)
		}
		r.upper = v
	}
	if r.lower.IsZero() && r.upper.IsZero() {
		return Range{}, fmt.Errorf("invalid version range %q: no bounds", spec)
	}
	return r, nil
}

// MustParseRange parses a range specification and panics on failure.
func MustParseRange(spec string) Range {
	r, err := ParseRange(spec)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the original range specification.
func (r Range) String() string { return r.raw }

// Satisfies reports whether v falls inside the range.
func (r Range) Satisfies(v Version) bool {
	if !r.lower.IsZero() {
		c := v.Compare(r.lower)
		if c < 0 || (c == 0 && !r.lowerInclusive) {
			return false
		}
	}
	if !r.upper.IsZero() {
		c := v.Compare(r.upper)
		if c > 0 || (c == 0 && !r.upperInclusive) {
			return false
		}
	}
	return true
}

// HighestSatisfying returns the highest version in versions that satisfies
// the range, and false when none does.
func HighestSatisfying(versions []Version, r Range) (Version, bool) {
	sorted := make([]Version, len(versions))
	copy(sorted, versions)
	SortDescending(sorted)
	for _, v := range sorted {
		if r.Satisfies(v) {
			return v, true
		}
	}
	return Version{}, false
}
