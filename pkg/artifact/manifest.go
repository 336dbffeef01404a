package artifact

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/coordtech/packline/pkg/version"
)

// Manifest is the metadata embedded in an artifact payload: the declared
// identity and the dependency references required at runtime.
type Manifest struct {
	Identity
	Dependencies []Dependency
}

// nuspec mirrors the manifest XML inside an artifact. Dependencies appear
// either flat or grouped by target framework; both forms are read.
type nuspec struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		ID           string `xml:"id"`
		Version      string `xml:"version"`
		Dependencies struct {
			Dependency []nuspecDependency `xml:"dependency"`
			Group      []struct {
				Dependency []nuspecDependency `xml:"dependency"`
			} `xml:"group"`
		} `xml:"dependencies"`
	} `xml:"metadata"`
}

type nuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// ReadManifest opens a zip payload, locates the .nuspec manifest entry,
// and parses the declared identity and dependencies.
func ReadManifest(payload []byte) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("reading artifact payload: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".nuspec") && !strings.Contains(f.Name, "/") {
			entry = f
			break
		}
	}
	if entry == nil {
		// Fall back to a nested manifest if no top-level one exists.
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, ".nuspec") {
				entry = f
				break
			}
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("no manifest found in artifact")
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var spec nuspec
	if err := xml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if spec.Metadata.ID == "" || spec.Metadata.Version == "" {
		return nil, fmt.Errorf("manifest missing id or version")
	}

	m := &Manifest{
		Identity: Identity{Name: spec.Metadata.ID, Version: spec.Metadata.Version},
	}

	var flat []nuspecDependency
	flat = append(flat, spec.Metadata.Dependencies.Dependency...)
	for _, g := range spec.Metadata.Dependencies.Group {
		flat = append(flat, g.Dependency...)
	}

	seen := make(map[string]bool)
	for _, d := range flat {
		if d.ID == "" || seen[strings.ToLower(d.ID)] {
			continue
		}
		// Entries without a version attribute carry no constraint and are
		// not part of the closure.
		if strings.TrimSpace(d.Version) == "" {
			continue
		}
		seen[strings.ToLower(d.ID)] = true

		rng, err := version.ParseRange(d.Version)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.ID, err)
		}
		m.Dependencies = append(m.Dependencies, Dependency{
			Name: d.ID,
			Spec: d.Version,
			Rng:  rng,
		})
	}

	return m, nil
}
