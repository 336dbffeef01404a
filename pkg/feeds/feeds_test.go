package feeds

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/version"
)

// fakeFeed is a minimal in-memory feed for registry tests.
type fakeFeed struct {
	id   string
	kind Kind
}

func (f *fakeFeed) Identifier() string { return f.id }
func (f *fakeFeed) Kind() Kind         { return f.kind }
func (f *fakeFeed) Versions(context.Context, string) ([]version.Version, error) {
	return nil, nil
}
func (f *fakeFeed) Fetch(context.Context, artifact.Identity) (*artifact.Package, error) {
	return nil, nil
}
func (f *fakeFeed) Source() Source { return Source{} }

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	if err := r.Register(&fakeFeed{id: "custom", kind: KindCustom}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&fakeFeed{id: "custom", kind: KindCustom}); err == nil {
		t.Fatal("duplicate Register should fail")
	}

	if _, err := r.Resolve("custom"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err := r.Resolve("nope")
	if errdefs.CodeOf(err) != errdefs.CodeUnknownFeed {
		t.Fatalf("Resolve unknown: code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeUnknownFeed)
	}
}

func TestRegistryAllOrdersByPriority(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register(&fakeFeed{id: "t", kind: KindTenant})
	r.Register(&fakeFeed{id: "c", kind: KindCustom})
	r.Register(&fakeFeed{id: "l", kind: KindLocalCache})

	all := r.All()
	got := []Kind{all[0].Kind(), all[1].Kind(), all[2].Kind()}
	want := []Kind{KindLocalCache, KindCustom, KindTenant}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All() order = %v, want %v", got, want)
		}
	}
}

func TestCredentialNeverSerialized(t *testing.T) {
	c := Credential{Username: "svc", Secret: "hunter2"}
	if s := c.String(); s != "[redacted]" {
		t.Errorf("String() = %q, leaks credential", s)
	}
	if s := fmt.Sprintf("%v", c); s == "hunter2" || bytes.Contains([]byte(s), []byte("hunter2")) {
		t.Errorf("formatted credential leaks secret: %q", s)
	}
}

func feedPayload(t *testing.T, name, ver string) []byte {
	t.Helper()
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package><metadata><id>%s</id><version>%s</version></metadata></package>`, name, ver)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create(name + ".nuspec")
	w.Write([]byte(manifest))
	zw.Close()
	return buf.Bytes()
}

func TestCustomFeedVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index/Acme.Shared":
			fmt.Fprint(w, `{"versions": ["1.0.0", "1.5.0"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewCustomFeed("custom", srv.URL, nil)
	versions, err := f.Versions(context.Background(), "Acme.Shared")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}

	// Absent package: empty list, not an error.
	versions, err = f.Versions(context.Background(), "Missing")
	if err != nil || versions != nil {
		t.Fatalf("absent package: versions=%v err=%v, want nil/nil", versions, err)
	}
}

func TestCustomFeedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewCustomFeed("custom", srv.URL, nil)
	_, err := f.Versions(context.Background(), "Acme.Shared")
	if !errdefs.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if errdefs.CodeOf(err) != errdefs.CodeFeedUnavailable {
		t.Errorf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeFeedUnavailable)
	}
}

func TestCustomFeedFetch(t *testing.T) {
	payload := feedPayload(t, "Acme.Shared", "1.5.0")
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			sawAuth = true
		}
		if r.URL.Path == "/package/Acme.Shared/1.5.0" {
			w.Write(payload)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewCustomFeed("custom", srv.URL, &Credential{Username: "svc", Secret: "s"})
	pkg, err := f.Fetch(context.Background(), artifact.Identity{Name: "Acme.Shared", Version: "1.5.0"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(pkg.Payload, payload) {
		t.Error("payload mismatch")
	}
	if !sawAuth {
		t.Error("credential was not sent as basic auth")
	}

	missing, err := f.Fetch(context.Background(), artifact.Identity{Name: "Nope", Version: "1.0.0"})
	if err != nil || missing != nil {
		t.Fatalf("absent fetch: pkg=%v err=%v, want nil/nil", missing, err)
	}
}
