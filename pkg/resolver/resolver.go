// Package resolver determines which feeds satisfy a project's declared
// dependencies. Feeds are queried in fixed kind priority (local-cache,
// custom, tenant); the first feed offering a satisfying version wins, and
// within that feed the highest satisfying version is selected. Priority
// order beats version maximality across feeds so results stay deterministic
// and auditable.
package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/feeds"
	"github.com/coordtech/packline/pkg/project"
	"github.com/coordtech/packline/pkg/version"
)

// ResolvedDependency records where one dependency reference was satisfied.
type ResolvedDependency struct {
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Version  version.Version `json:"version"`
	FeedID   string          `json:"feed"`
	FeedKind feeds.Kind      `json:"feedKind"`
}

// Identity returns the resolved (name, version) pair.
func (d ResolvedDependency) Identity() artifact.Identity {
	return artifact.Identity{Name: d.Name, Version: d.Version.String()}
}

// ResolvedSet is the outcome of resolving one project: every dependency
// bound to exactly one feed, plus the distinct feeds involved in priority
// order for handing to the packaging process.
type ResolvedSet struct {
	Project      string               `json:"project"`
	Dependencies []ResolvedDependency `json:"dependencies,omitempty"`
	Feeds        []feeds.Feed         `json:"-"`
}

// Sources returns the feed sources in priority order.
func (s *ResolvedSet) Sources() []feeds.Source {
	out := make([]feeds.Source, 0, len(s.Feeds))
	for _, f := range s.Feeds {
		out = append(out, f.Source())
	}
	return out
}

// FeedMetrics counts feed version queries and their failures. Satisfied by
// the telemetry metrics collector; a nil recorder disables collection.
type FeedMetrics interface {
	RecordFeedQuery(feed string, failed bool)
}

// Resolver binds dependency references to feeds.
type Resolver struct {
	logger zerolog.Logger

	// Metrics receives a measurement per feed version query. Nil disables
	// collection.
	Metrics FeedMetrics
}

// New creates a resolver.
func New(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// Resolve binds every dependency of the project against candidates, which
// must already be in priority order (see feeds.Registry.All). It performs
// no retries; transient feed failures surface to the caller unchanged.
func (r *Resolver) Resolve(ctx context.Context, p *project.Project, candidates []feeds.Feed) (*ResolvedSet, error) {
	set := &ResolvedSet{Project: p.Name}
	used := make(map[string]bool)

	for _, dep := range p.Dependencies {
		resolved, err := r.resolveOne(ctx, dep, candidates)
		if err != nil {
			return nil, err
		}
		set.Dependencies = append(set.Dependencies, *resolved)

		if !used[resolved.FeedID] {
			used[resolved.FeedID] = true
		}
	}

	// Feed order follows candidate priority, restricted to feeds that
	// actually satisfied something.
	for _, f := range candidates {
		if used[f.Identifier()] {
			set.Feeds = append(set.Feeds, f)
		}
	}

	r.logger.Debug().
		Str("project", p.Name).
		Int("dependencies", len(set.Dependencies)).
		Int("feeds", len(set.Feeds)).
		Msg("Dependencies resolved")
	return set, nil
}

// resolveOne walks candidates in order. Feeds sharing a kind share a
// priority tier; two same-tier feeds claiming different satisfying versions
// is ambiguous, while a lower-priority feed with a higher version is not.
func (r *Resolver) resolveOne(ctx context.Context, dep artifact.Dependency, candidates []feeds.Feed) (*ResolvedDependency, error) {
	for i := 0; i < len(candidates); {
		tier := candidates[i].Kind().Priority()

		var match *ResolvedDependency
		for ; i < len(candidates) && candidates[i].Kind().Priority() == tier; i++ {
			f := candidates[i]
			available, err := f.Versions(ctx, dep.Name)
			if r.Metrics != nil {
				r.Metrics.RecordFeedQuery(f.Identifier(), err != nil)
			}
			if err != nil {
				return nil, err
			}
			best, ok := version.HighestSatisfying(available, dep.Rng)
			if !ok {
				continue
			}

			if match != nil {
				if !match.Version.Equal(best) {
					return nil, errdefs.NewPermanent(
						fmt.Sprintf("dependency %s is claimed by feeds %s (%s) and %s (%s) at the same priority",
							dep.Name, match.FeedID, match.Version, f.Identifier(), best), nil).
						WithCode(errdefs.CodeAmbiguousDependency).
						WithResource(dep.Name)
				}
				// Same version on both feeds; the earlier one stands.
				continue
			}
			match = &ResolvedDependency{
				Name:     dep.Name,
				Spec:     dep.Spec,
				Version:  best,
				FeedID:   f.Identifier(),
				FeedKind: f.Kind(),
			}
		}

		if match != nil {
			return match, nil
		}
	}

	return nil, errdefs.NewPermanent(
		fmt.Sprintf("no feed satisfies %s %s", dep.Name, dep.Spec), nil).
		WithCode(errdefs.CodeUnsatisfiableDependency).
		WithResource(dep.Name).
		WithDetail("constraint", dep.Spec)
}
