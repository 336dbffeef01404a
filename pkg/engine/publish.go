// Package engine coordinates multi-step runs over projects and tenants:
// publishing (resolve, build, upload per project) and migration (dependency
// closure transfer between tenants). Independent units run concurrently up
// to a bounded worker pool; batches always complete with a mixed report.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/builder"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/feeds"
	"github.com/coordtech/packline/pkg/orchestrator"
	"github.com/coordtech/packline/pkg/project"
	"github.com/coordtech/packline/pkg/resolver"
	"github.com/coordtech/packline/pkg/version"
)

// TenantAPI is the tenant surface the engine drives. Implemented by the
// orchestrator client; tests substitute fakes.
type TenantAPI interface {
	Tenant() orchestrator.Tenant
	FeedURL() string
	Authenticate(ctx context.Context) error
	Upload(ctx context.Context, pkg *artifact.Package) (orchestrator.PublishStatus, error)
	PackageVersions(ctx context.Context, name string) ([]version.Version, error)
	ListPackages(ctx context.Context) ([]artifact.Identity, error)
	HasPackage(ctx context.Context, id artifact.Identity) (bool, error)
	DownloadPackage(ctx context.Context, id artifact.Identity) (*artifact.Package, error)
}

// Coordinator runs the publish pipeline: resolve, build, upload, one
// pipeline instance per project, projects independent of each other.
type Coordinator struct {
	registry *feeds.Registry
	resolver *resolver.Resolver
	builder  *builder.Builder
	retry    orchestrator.RetryPolicy
	logger   zerolog.Logger

	// MaxParallel bounds concurrent project pipelines.
	MaxParallel int

	// Metrics receives build, upload, and error measurements. Nil disables
	// collection.
	Metrics RunMetrics
}

// NewCoordinator wires the publish pipeline.
func NewCoordinator(reg *feeds.Registry, res *resolver.Resolver, b *builder.Builder, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry:    reg,
		resolver:    res,
		builder:     b,
		retry:       orchestrator.DefaultRetryPolicy(),
		logger:      logger.With().Str("component", "publish-coordinator").Logger(),
		MaxParallel: 4,
	}
}

// Publish builds and uploads every project against the tenant. A failed
// project never blocks the others; the report enumerates every outcome.
// The only whole-batch abort is an authentication failure before any work
// starts.
func (c *Coordinator) Publish(ctx context.Context, projects []*project.Project, tenant TenantAPI) (*PublishReport, error) {
	report := &PublishReport{
		RunID:     uuid.New().String(),
		Tenant:    tenant.Tenant().String(),
		StartedAt: time.Now(),
	}
	report.Summary.Total = len(projects)

	// Bad credentials invalidate the whole batch up front.
	if err := tenant.Authenticate(ctx); err != nil {
		return nil, err
	}

	// The tenant feed joins resolution at lowest priority, scoped to this
	// run. The shared registry never learns tenant feeds, so consecutive
	// runs against different tenants cannot resolve against each other.
	var candidates []feeds.Feed
	for _, f := range c.registry.All() {
		if f.Kind() != feeds.KindTenant {
			candidates = append(candidates, f)
		}
	}
	candidates = append(candidates, feeds.NewTenantFeed(tenantSource{tenant}))

	c.logger.Info().
		Str("run", report.RunID).
		Str("tenant", report.Tenant).
		Int("projects", len(projects)).
		Msg("Publish run started")

	workers := c.MaxParallel
	if workers <= 0 {
		workers = 1
	}
	if len(projects) < workers {
		workers = len(projects)
	}

	queue := make(chan *project.Project)
	results := make(chan PublishOutcome, len(projects))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				results <- c.runPipeline(ctx, p, candidates, tenant)
			}
		}()
	}

	// Cancellation drops queued projects; in-flight pipelines finish or
	// time out on their own.
	queued := 0
feed:
	for _, p := range projects {
		select {
		case queue <- p:
			queued++
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
	close(results)

	for outcome := range results {
		report.Outcomes = append(report.Outcomes, outcome)
	}
	for _, p := range projects[queued:] {
		report.Outcomes = append(report.Outcomes, PublishOutcome{
			Project:  p.Name,
			Identity: p.Identity(),
			Status:   StatusSkipped,
			Error:    "run cancelled before start",
		})
	}

	for _, o := range report.Outcomes {
		switch o.Status {
		case StatusCreated:
			report.Summary.Uploaded++
		case StatusAlreadyExists:
			report.Summary.AlreadyExists++
		case StatusSkipped:
			report.Summary.Skipped++
		case StatusFailed:
			report.Summary.Failed++
		}
		if o.Status == StatusCreated || o.Status == StatusAlreadyExists {
			if o.CacheHit {
				report.Summary.CacheHits++
			} else {
				report.Summary.Built++
			}
		}
	}

	report.Duration = time.Since(report.StartedAt)
	c.logger.Info().
		Str("run", report.RunID).
		Int("uploaded", report.Summary.Uploaded).
		Int("alreadyExists", report.Summary.AlreadyExists).
		Int("failed", report.Summary.Failed).
		Dur("duration", report.Duration).
		Msg("Publish run finished")
	return report, nil
}

// runPipeline is one project's strictly sequential pipeline. Errors become
// a structured outcome here, at the smallest unit.
func (c *Coordinator) runPipeline(ctx context.Context, p *project.Project, candidates []feeds.Feed, tenant TenantAPI) PublishOutcome {
	start := time.Now()
	outcome := PublishOutcome{
		Project:  p.Name,
		Identity: p.Identity(),
	}

	fail := func(err error) PublishOutcome {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		outcome.ErrorCode = errdefs.CodeOf(err)
		outcome.Duration = time.Since(start)
		if c.Metrics != nil {
			c.Metrics.RecordError(string(errdefs.ClassOf(err)), errdefs.CodeOf(err))
		}
		c.logger.Warn().
			Err(err).
			Str("project", p.Name).
			Msg("Project pipeline failed")
		return outcome
	}

	// Transient feed queries are retried here; the resolver itself never
	// retries.
	var resolved *resolver.ResolvedSet
	err := orchestrator.Retry(ctx, c.retry, func() error {
		var rerr error
		resolved, rerr = c.resolver.Resolve(ctx, p, candidates)
		return rerr
	})
	if err != nil {
		return fail(err)
	}

	built, err := c.builder.Build(ctx, p, resolved)
	if err != nil {
		if c.Metrics != nil && errdefs.CodeOf(err) == errdefs.CodeBuildFailed {
			c.Metrics.RecordBuild("failed", false, time.Since(start))
		}
		return fail(err)
	}
	outcome.CacheHit = built.CacheHit
	outcome.Feeds = built.Feeds
	if c.Metrics != nil {
		c.Metrics.RecordBuild("succeeded", built.CacheHit, built.Duration)
	}

	uploadStart := time.Now()
	var status orchestrator.PublishStatus
	err = orchestrator.Retry(ctx, c.retry, func() error {
		var uerr error
		status, uerr = tenant.Upload(ctx, built.Package)
		return uerr
	})
	if err != nil {
		return fail(err)
	}
	if c.Metrics != nil {
		c.Metrics.RecordUpload(tenant.Tenant().Name, string(status), time.Since(uploadStart))
	}

	switch status {
	case orchestrator.PublishAlreadyExists:
		outcome.Status = StatusAlreadyExists
	default:
		outcome.Status = StatusCreated
	}
	outcome.Duration = time.Since(start)
	return outcome
}

// tenantSource adapts a TenantAPI to the feed source interface.
type tenantSource struct {
	api TenantAPI
}

func (s tenantSource) TenantName() string { return s.api.Tenant().Name }
func (s tenantSource) FeedURL() string    { return s.api.FeedURL() }
func (s tenantSource) PackageVersions(ctx context.Context, name string) ([]version.Version, error) {
	return s.api.PackageVersions(ctx, name)
}
func (s tenantSource) ListPackages(ctx context.Context) ([]artifact.Identity, error) {
	return s.api.ListPackages(ctx)
}
func (s tenantSource) DownloadPackage(ctx context.Context, id artifact.Identity) (*artifact.Package, error) {
	return s.api.DownloadPackage(ctx, id)
}
