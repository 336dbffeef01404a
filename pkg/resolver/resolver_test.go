package resolver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/feeds"
	"github.com/coordtech/packline/pkg/project"
	"github.com/coordtech/packline/pkg/version"
)

// stubFeed serves a fixed name-to-versions map, optionally failing every
// query to simulate an unreachable feed.
type stubFeed struct {
	id       string
	kind     feeds.Kind
	packages map[string][]string
	fail     bool
}

func (f *stubFeed) Identifier() string { return f.id }
func (f *stubFeed) Kind() feeds.Kind   { return f.kind }

func (f *stubFeed) Versions(_ context.Context, name string) ([]version.Version, error) {
	if f.fail {
		return nil, errdefs.NewTransient("feed unreachable", nil).
			WithCode(errdefs.CodeFeedUnavailable).
			WithResource(f.id)
	}
	var out []version.Version
	for _, raw := range f.packages[name] {
		out = append(out, version.MustParse(raw))
	}
	return out, nil
}

func (f *stubFeed) Fetch(context.Context, artifact.Identity) (*artifact.Package, error) {
	return nil, nil
}
func (f *stubFeed) Source() feeds.Source { return feeds.Source{URL: "stub://" + f.id} }

func dep(name, spec string) artifact.Dependency {
	return artifact.Dependency{Name: name, Spec: spec, Rng: version.MustParseRange(spec)}
}

func testProject(deps ...artifact.Dependency) *project.Project {
	return &project.Project{Name: "Invoices", Version: "1.2.0", Dependencies: deps}
}

func TestResolvePriorityBeatsVersionMaximality(t *testing.T) {
	// local-cache has Shared@1.1.0, custom has Shared@1.5.0. Both satisfy
	// [1.0.0,2.0.0); the local cache is checked first, so its 1.1.0 wins
	// even though custom offers a higher version.
	local := &stubFeed{id: "local", kind: feeds.KindLocalCache,
		packages: map[string][]string{"Shared": {"1.1.0"}}}
	custom := &stubFeed{id: "custom", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.5.0"}}}

	r := New(zerolog.Nop())
	set, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{local, custom})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := set.Dependencies[0]
	if got.FeedID != "local" || got.Version.String() != "1.1.0" {
		t.Fatalf("resolved %s from %s, want 1.1.0 from local", got.Version, got.FeedID)
	}
}

func TestResolveHighestWithinFeed(t *testing.T) {
	custom := &stubFeed{id: "custom", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.1.0", "1.5.0", "2.1.0"}}}

	r := New(zerolog.Nop())
	set, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{custom})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := set.Dependencies[0].Version.String(); got != "1.5.0" {
		t.Fatalf("resolved %s, want highest satisfying 1.5.0", got)
	}
}

func TestResolveFallsThroughToLowerPriority(t *testing.T) {
	// The local cache has nothing satisfying; the tenant feed at lowest
	// priority still succeeds.
	local := &stubFeed{id: "local", kind: feeds.KindLocalCache,
		packages: map[string][]string{"Shared": {"0.9.0"}}}
	tenant := &stubFeed{id: "tenant:prod", kind: feeds.KindTenant,
		packages: map[string][]string{"Shared": {"1.2.0"}}}

	r := New(zerolog.Nop())
	set, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{local, tenant})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := set.Dependencies[0]
	if got.FeedID != "tenant:prod" || got.Version.String() != "1.2.0" {
		t.Fatalf("resolved %s from %s, want 1.2.0 from tenant:prod", got.Version, got.FeedID)
	}
}

func TestResolveUnsatisfiable(t *testing.T) {
	local := &stubFeed{id: "local", kind: feeds.KindLocalCache,
		packages: map[string][]string{"Shared": {"0.9.0"}}}

	r := New(zerolog.Nop())
	_, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{local})
	if errdefs.CodeOf(err) != errdefs.CodeUnsatisfiableDependency {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeUnsatisfiableDependency)
	}
}

func TestResolveAmbiguousSamePriority(t *testing.T) {
	// Two custom feeds at the same priority tier claim different satisfying
	// versions for the same name.
	a := &stubFeed{id: "custom-a", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.1.0"}}}
	b := &stubFeed{id: "custom-b", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.5.0"}}}

	r := New(zerolog.Nop())
	_, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{a, b})
	if errdefs.CodeOf(err) != errdefs.CodeAmbiguousDependency {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeAmbiguousDependency)
	}
}

func TestResolveSamePriorityIdenticalVersionNotAmbiguous(t *testing.T) {
	a := &stubFeed{id: "custom-a", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.5.0"}}}
	b := &stubFeed{id: "custom-b", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.5.0"}}}

	r := New(zerolog.Nop())
	set, err := r.Resolve(context.Background(), testProject(dep("Shared", "[1.0.0,2.0.0)")),
		[]feeds.Feed{a, b})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if set.Dependencies[0].FeedID != "custom-a" {
		t.Fatalf("feed = %s, want first-registered custom-a", set.Dependencies[0].FeedID)
	}
}

func TestResolveFeedUnavailablePropagates(t *testing.T) {
	down := &stubFeed{id: "custom", kind: feeds.KindCustom, fail: true}

	r := New(zerolog.Nop())
	_, err := r.Resolve(context.Background(), testProject(dep("Shared", "1.0.0")),
		[]feeds.Feed{down})
	if !errdefs.IsTransient(err) || errdefs.CodeOf(err) != errdefs.CodeFeedUnavailable {
		t.Fatalf("expected transient FEED_UNAVAILABLE, got %v", err)
	}
}

// queryCounter tallies feed version queries per feed identifier.
type queryCounter struct {
	queries  map[string]int
	failures map[string]int
}

func (c *queryCounter) RecordFeedQuery(feed string, failed bool) {
	c.queries[feed]++
	if failed {
		c.failures[feed]++
	}
}

func TestResolveRecordsFeedQueries(t *testing.T) {
	down := &stubFeed{id: "local", kind: feeds.KindLocalCache, fail: true}
	custom := &stubFeed{id: "custom", kind: feeds.KindCustom,
		packages: map[string][]string{"Shared": {"1.5.0"}}}

	counter := &queryCounter{queries: make(map[string]int), failures: make(map[string]int)}
	r := New(zerolog.Nop())
	r.Metrics = counter

	_, err := r.Resolve(context.Background(), testProject(dep("Shared", "1.0.0")),
		[]feeds.Feed{custom})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if counter.queries["custom"] != 1 || counter.failures["custom"] != 0 {
		t.Errorf("custom counts = %d/%d, want 1 query, 0 failures",
			counter.queries["custom"], counter.failures["custom"])
	}

	if _, err := r.Resolve(context.Background(), testProject(dep("Shared", "1.0.0")),
		[]feeds.Feed{down}); err == nil {
		t.Fatal("expected error from failing feed")
	}
	if counter.queries["local"] != 1 || counter.failures["local"] != 1 {
		t.Errorf("local counts = %d/%d, want 1 query, 1 failure",
			counter.queries["local"], counter.failures["local"])
	}
}

func TestResolveFeedSetFollowsPriorityOrder(t *testing.T) {
	local := &stubFeed{id: "local", kind: feeds.KindLocalCache,
		packages: map[string][]string{"A": {"1.0.0"}}}
	custom := &stubFeed{id: "custom", kind: feeds.KindCustom,
		packages: map[string][]string{"B": {"2.0.0"}}}

	r := New(zerolog.Nop())
	set, err := r.Resolve(context.Background(),
		testProject(dep("B", "2.0.0"), dep("A", "1.0.0")),
		[]feeds.Feed{local, custom})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(set.Feeds) != 2 || set.Feeds[0].Identifier() != "local" || set.Feeds[1].Identifier() != "custom" {
		t.Fatalf("feed set order wrong: %v", set.Feeds)
	}
}
