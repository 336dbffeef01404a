// Package project discovers local automation projects and parses their
// descriptors into the dependency references used by resolution and builds.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/version"
)

// DescriptorName is the file that marks a directory as a project root.
const DescriptorName = "project.json"

// Project is a scanned local project. It is immutable for the duration
// of a build run; re-scanning produces fresh records.
type Project struct {
	Name         string                `json:"name"`
	Version      string                `json:"version"`
	Description  string                `json:"description,omitempty"`
	Root         string                `json:"root"`
	Dependencies []artifact.Dependency `json:"dependencies,omitempty"`
}

// Identity returns the (name, version) pair the project builds into.
func (p *Project) Identity() artifact.Identity {
	return artifact.Identity{Name: p.Name, Version: p.Version}
}

// descriptor mirrors the on-disk project.json layout. Dependencies map
// package names to version range specifications.
type descriptor struct {
	Name           string            `json:"name"`
	ProjectVersion string            `json:"projectVersion"`
	Description    string            `json:"description"`
	Dependencies   map[string]string `json:"dependencies"`
}

// Load parses the descriptor in dir into a Project. Malformed descriptors
// return a permanent error carrying CodeMalformedDescriptor so scans can
// skip the project and continue.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, DescriptorName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.NewPermanent(fmt.Sprintf("reading project descriptor: %v", err), err).
			WithCode(errdefs.CodeMalformedDescriptor).
			WithResource(path)
	}

	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errdefs.NewPermanent(fmt.Sprintf("parsing project descriptor: %v", err), err).
			WithCode(errdefs.CodeMalformedDescriptor).
			WithResource(path)
	}
	if d.Name == "" {
		return nil, errdefs.NewPermanent("project descriptor missing name", nil).
			WithCode(errdefs.CodeMalformedDescriptor).
			WithResource(path)
	}
	if d.ProjectVersion == "" {
		return nil, errdefs.NewPermanent("project descriptor missing projectVersion", nil).
			WithCode(errdefs.CodeMalformedDescriptor).
			WithResource(path)
	}
	if _, err := version.Parse(d.ProjectVersion); err != nil {
		return nil, errdefs.NewPermanent(fmt.Sprintf("invalid projectVersion %q", d.ProjectVersion), err).
			WithCode(errdefs.CodeMalformedDescriptor).
			WithResource(path)
	}

	p := &Project{
		Name:        d.Name,
		Version:     d.ProjectVersion,
		Description: d.Description,
		Root:        dir,
	}

	// Dependency order is stable regardless of map iteration.
	names := make([]string, 0, len(d.Dependencies))
	for name := range d.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := d.Dependencies[name]
		rng, err := version.ParseRange(spec)
		if err != nil {
			return nil, errdefs.NewPermanent(fmt.Sprintf("dependency %s has invalid range %q", name, spec), err).
				WithCode(errdefs.CodeMalformedDescriptor).
				WithResource(path)
		}
		p.Dependencies = append(p.Dependencies, artifact.Dependency{
			Name: name,
			Spec: spec,
			Rng:  rng,
		})
	}

	return p, nil
}
