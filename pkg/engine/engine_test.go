package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/orchestrator"
	"github.com/coordtech/packline/pkg/version"
)

// makePackage fabricates an artifact whose manifest declares deps as
// name=range pairs. The marker makes payloads differ between variants.
func makePackage(t *testing.T, name, ver, marker string, deps map[string]string) *artifact.Package {
	t.Helper()

	var depXML bytes.Buffer
	for id, spec := range deps {
		fmt.Fprintf(&depXML, `<dependency id=%q version=%q />`, id, spec)
	}
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package><metadata><id>%s</id><version>%s</version>
<dependencies>%s</dependencies></metadata></package>`, name, ver, depXML.String())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name + ".nuspec")
	if err != nil {
		t.Fatalf("creating manifest entry: %v", err)
	}
	w.Write([]byte(manifest))
	cw, err := zw.Create("content.txt")
	if err != nil {
		t.Fatalf("creating content entry: %v", err)
	}
	cw.Write([]byte(marker))
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}

	pkg, err := artifact.New(name, ver, buf.Bytes())
	if err != nil {
		t.Fatalf("building package %s@%s: %v", name, ver, err)
	}
	return pkg
}

// fakeTenant is an in-memory tenant: published packages keyed by identity,
// upload semantics matching the real feed (never overwrites).
type fakeTenant struct {
	name     string
	authFail bool

	mu       sync.Mutex
	packages map[string]*artifact.Package
	uploads  []artifact.Identity
}

func newFakeTenant(name string) *fakeTenant {
	return &fakeTenant{name: name, packages: make(map[string]*artifact.Package)}
}

func (f *fakeTenant) publish(pkgs ...*artifact.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pkgs {
		f.packages[p.Key()] = p
	}
}

func (f *fakeTenant) Tenant() orchestrator.Tenant {
	return orchestrator.Tenant{Name: f.name, OrgName: "org", BaseURL: "https://fake"}
}

func (f *fakeTenant) FeedURL() string { return "https://fake/" + f.name }

func (f *fakeTenant) Authenticate(context.Context) error {
	if f.authFail {
		return errdefs.NewPermanent("credentials rejected", nil).
			WithCode(errdefs.CodeAuthenticationFailed)
	}
	return nil
}

func (f *fakeTenant) Upload(_ context.Context, pkg *artifact.Package) (orchestrator.PublishStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.packages[pkg.Key()]; ok {
		if existing.ContentHash == pkg.ContentHash {
			return orchestrator.PublishAlreadyExists, nil
		}
		return "", errdefs.NewConflict(
			fmt.Sprintf("package %s already published with different content", pkg.Identity), nil).
			WithCode(errdefs.CodeVersionConflict).
			WithResource(pkg.Identity.String())
	}
	f.packages[pkg.Key()] = pkg
	f.uploads = append(f.uploads, pkg.Identity)
	return orchestrator.PublishCreated, nil
}

func (f *fakeTenant) PackageVersions(_ context.Context, name string) ([]version.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []version.Version
	for _, p := range f.packages {
		if strings.EqualFold(p.Name, name) {
			out = append(out, version.MustParse(p.Version))
		}
	}
	return out, nil
}

func (f *fakeTenant) ListPackages(context.Context) ([]artifact.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []artifact.Identity
	for _, p := range f.packages {
		out = append(out, p.Identity)
	}
	return out, nil
}

func (f *fakeTenant) HasPackage(_ context.Context, id artifact.Identity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.packages[id.Key()]
	return ok, nil
}

func (f *fakeTenant) DownloadPackage(_ context.Context, id artifact.Identity) (*artifact.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[id.Key()]
	if !ok {
		return nil, nil
	}
	return p, nil
}

// uploadOrder returns the identities in the order they were created on the
// tenant.
func (f *fakeTenant) uploadOrder() []artifact.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]artifact.Identity(nil), f.uploads...)
}
