package builder

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/cache"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/project"
	"github.com/coordtech/packline/pkg/resolver"
)

// Outcome is the result of one build attempt. Ephemeral; it is reported,
// not persisted.
type Outcome struct {
	Project  string            `json:"project"`
	Identity artifact.Identity `json:"identity"`
	Package  *artifact.Package `json:"-"`
	CacheHit bool              `json:"cacheHit"`
	Duration time.Duration     `json:"duration"`
	Feeds    []string          `json:"feeds,omitempty"`
}

// Builder produces artifacts through the external packaging process, with
// the local cache as idempotent short-circuit.
type Builder struct {
	cache   *cache.Cache
	invoker Invoker
	logger  zerolog.Logger

	// Timeout bounds one external invocation.
	Timeout time.Duration
}

// New creates a builder over the cache and invoker.
func New(c *cache.Cache, invoker Invoker, logger zerolog.Logger) *Builder {
	return &Builder{
		cache:   c,
		invoker: invoker,
		logger:  logger.With().Str("component", "package-builder").Logger(),
		Timeout: 5 * time.Minute,
	}
}

// Build packs a project against its resolved feed set. Concurrent builds of
// the same identity serialize on the per-identity cache lock, so the
// external process runs at most once; the second caller finds the artifact
// cached. A non-zero exit maps to a permanent error carrying CodeBuildFailed
// with the exit code and captured output preserved.
func (b *Builder) Build(ctx context.Context, p *project.Project, resolved *resolver.ResolvedSet) (*Outcome, error) {
	id := p.Identity()
	start := time.Now()

	outcome := &Outcome{
		Project:  p.Name,
		Identity: id,
	}
	for _, f := range resolved.Feeds {
		outcome.Feeds = append(outcome.Feeds, f.Identifier())
	}

	unlock := b.cache.LockIdentity(id)
	defer unlock()

	// Identical identity already cached: skip the external process.
	cached, err := b.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		outcome.Package = cached
		outcome.CacheHit = true
		outcome.Duration = time.Since(start)
		b.logger.Debug().Str("package", id.String()).Msg("Build satisfied from cache")
		return outcome, nil
	}

	outDir, err := os.MkdirTemp("", "packline-build-")
	if err != nil {
		return nil, fmt.Errorf("creating build output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	invokeCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	b.logger.Info().
		Str("project", p.Name).
		Str("version", p.Version).
		Strs("feeds", outcome.Feeds).
		Msg("Packing project")

	result, err := b.invoker.Invoke(invokeCtx, InvokeRequest{
		ProjectPath: p.Root,
		OutputDir:   outDir,
		Version:     p.Version,
		Sources:     resolved.Sources(),
	})
	if err != nil {
		return nil, errdefs.NewPermanent("packaging process could not run", err).
			WithCode(errdefs.CodeBuildFailed).
			WithResource(id.String()).
			WithOperation("build")
	}
	if result.ExitCode != 0 {
		buildErr := errdefs.NewPermanent(
			fmt.Sprintf("packaging process exited with code %d", result.ExitCode), nil).
			WithCode(errdefs.CodeBuildFailed).
			WithResource(id.String()).
			WithOperation("build").
			WithDetail("exitCode", result.ExitCode).
			WithDetail("output", result.Output)
		if depErrs := DependencyErrors(result.Output); len(depErrs) > 0 {
			buildErr = buildErr.WithDetail("dependencyErrors", depErrs)
		}
		return nil, buildErr
	}

	payload, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("reading produced artifact: %w", err)
	}
	pkg, err := artifact.New(p.Name, p.Version, payload)
	if err != nil {
		return nil, err
	}

	// A hash mismatch against an existing cache entry surfaces here as a
	// version conflict; the cached payload is never replaced.
	if _, err := b.cache.Put(ctx, pkg); err != nil {
		return nil, err
	}

	outcome.Package = pkg
	outcome.Duration = time.Since(start)
	b.logger.Info().
		Str("package", id.String()).
		Dur("duration", outcome.Duration).
		Msg("Package built")
	return outcome, nil
}

// dependencyErrorPatterns match feed resolution failures in packaging
// output so they can be surfaced separately from generic build noise.
var dependencyErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unable to resolve dependency`),
	regexp.MustCompile(`(?i)could not find package`),
	regexp.MustCompile(`(?i)package '.*' is not found`),
	regexp.MustCompile(`(?i)missing dependency`),
	regexp.MustCompile(`NU1101`),
	regexp.MustCompile(`NU1102`),
}

// DependencyErrors extracts dependency resolution failures from build
// output.
func DependencyErrors(output string) []string {
	var errs []string
	for _, line := range strings.Split(output, "\n") {
		for _, p := range dependencyErrorPatterns {
			if p.MatchString(line) {
				errs = append(errs, strings.TrimSpace(line))
				break
			}
		}
	}
	return errs
}
