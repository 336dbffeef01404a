package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
	"github.com/coordtech/packline/pkg/orchestrator"
	"github.com/coordtech/packline/pkg/version"
)

// Migrator moves published packages between tenants with dependency-closure
// and ordering guarantees: a dependent is never visible on the destination
// before all of its dependencies are.
type Migrator struct {
	retry  orchestrator.RetryPolicy
	logger zerolog.Logger

	// MaxParallel bounds concurrent uploads within one topological level.
	MaxParallel int

	// VerifyContent downloads destination copies of already-present
	// identities and compares content hashes, turning silent divergence
	// into explicit conflicts. Off by default; it doubles transfer volume.
	VerifyContent bool

	// Metrics receives upload and error measurements. Nil disables
	// collection.
	Metrics RunMetrics
}

// NewMigrator creates a migrator with the default retry policy.
func NewMigrator(logger zerolog.Logger) *Migrator {
	return &Migrator{
		retry:       orchestrator.DefaultRetryPolicy(),
		logger:      logger.With().Str("component", "migration-engine").Logger(),
		MaxParallel: 4,
	}
}

// Plan computes the migration plan for the requested identities: the full
// dependency closure (platform packages excluded), cycle validation, and a
// topological order. Artifacts are fetched from the source during planning
// so execution never re-downloads. A cyclic graph fails the whole plan
// before anything is uploaded.
func (m *Migrator) Plan(ctx context.Context, source, destination TenantAPI, requested []artifact.Identity) (*MigrationPlan, error) {
	if err := source.Authenticate(ctx); err != nil {
		return nil, err
	}
	if err := destination.Authenticate(ctx); err != nil {
		return nil, err
	}

	plan := &MigrationPlan{
		Source:      source.Tenant().String(),
		Destination: destination.Tenant().String(),
		packages:    make(map[string]*artifact.Package),
		graph:       newDepGraph(),
	}
	requestedKeys := make(map[string]bool, len(requested))
	for _, id := range requested {
		requestedKeys[id.Key()] = true
	}

	// Breadth-first closure traversal over the source feed. Pinned
	// dependency identities are remembered per package so the edge pass
	// below does not re-query the source.
	pins := make(map[string][]artifact.Identity)
	queue := append([]artifact.Identity(nil), requested...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := plan.packages[id.Key()]; seen {
			continue
		}

		var pkg *artifact.Package
		err := orchestrator.Retry(ctx, m.retry, func() error {
			var derr error
			pkg, derr = source.DownloadPackage(ctx, id)
			return derr
		})
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			return nil, errdefs.NewPermanent(
				fmt.Sprintf("package %s is not published on the source tenant", id), nil).
				WithCode(errdefs.CodeNotFound).
				WithResource(id.String())
		}

		plan.packages[id.Key()] = pkg
		plan.graph.addNode(id)

		for _, dep := range pkg.Dependencies {
			// Platform packages ride public feeds; they are not part of
			// the closure.
			if artifact.IsOfficial(dep.Name) {
				continue
			}
			depID, err := m.pinDependency(ctx, source, dep)
			if err != nil {
				return nil, err
			}
			pins[id.Key()] = append(pins[id.Key()], depID)
			queue = append(queue, depID)
		}
	}

	// Edges need every node present, so they are added after traversal.
	for key, pkg := range plan.packages {
		for _, depID := range pins[key] {
			if err := plan.graph.addEdge(depID, pkg.Identity); err != nil {
				return nil, err
			}
		}
	}

	if err := plan.graph.detectCycles(); err != nil {
		return nil, err
	}
	levels, err := plan.graph.levels()
	if err != nil {
		return nil, err
	}
	plan.levels = levels

	for _, level := range levels {
		for _, id := range level {
			plan.Units = append(plan.Units, MigrationUnit{
				Identity:  id,
				Requested: requestedKeys[id.Key()],
				DependsOn: plan.graph.dependenciesOf(id),
			})
		}
	}

	m.logger.Info().
		Str("source", plan.Source).
		Str("destination", plan.Destination).
		Int("requested", len(requested)).
		Int("total", len(plan.Units)).
		Msg("Migration plan computed")
	return plan, nil
}

// pinDependency resolves a dependency reference to a concrete source
// version: the highest published version satisfying the declared range.
func (m *Migrator) pinDependency(ctx context.Context, source TenantAPI, dep artifact.Dependency) (artifact.Identity, error) {
	var available []version.Version
	err := orchestrator.Retry(ctx, m.retry, func() error {
		var verr error
		available, verr = source.PackageVersions(ctx, dep.Name)
		return verr
	})
	if err != nil {
		return artifact.Identity{}, err
	}

	best, ok := version.HighestSatisfying(available, dep.Rng)
	if !ok {
		return artifact.Identity{}, errdefs.NewPermanent(
			fmt.Sprintf("no source version of %s satisfies %s", dep.Name, dep.Spec), nil).
			WithCode(errdefs.CodeUnsatisfiableDependency).
			WithResource(dep.Name).
			WithDetail("constraint", dep.Spec)
	}
	return artifact.Identity{Name: dep.Name, Version: best.String()}, nil
}

// Execute runs the plan level by level. Within a level identities upload
// concurrently; a unit whose dependency failed is skipped, and isolated
// failures never abort the remaining plan.
func (m *Migrator) Execute(ctx context.Context, plan *MigrationPlan, destination TenantAPI) (*MigrationReport, error) {
	report := &MigrationReport{
		RunID:       uuid.New().String(),
		Source:      plan.Source,
		Destination: plan.Destination,
		StartedAt:   time.Now(),
	}
	report.Summary.Total = len(plan.Units)

	requested := make(map[string]bool, len(plan.Units))
	deps := make(map[string][]artifact.Identity, len(plan.Units))
	for _, u := range plan.Units {
		requested[u.Identity.Key()] = u.Requested
		deps[u.Identity.Key()] = u.DependsOn
	}

	// settled tracks whether each finished identity is visible on the
	// destination; dependents gate on it.
	var mu sync.Mutex
	settled := make(map[string]bool)

	record := func(o MigrationOutcome) {
		mu.Lock()
		defer mu.Unlock()
		settled[o.Identity.Key()] = o.Status == StatusCreated || o.Status == StatusAlreadyExists
		report.Outcomes = append(report.Outcomes, o)
	}

	workers := m.MaxParallel
	if workers <= 0 {
		workers = 1
	}

	for _, level := range plan.levels {
		if ctx.Err() != nil {
			// Cancellation drops not-yet-started identities; nothing is
			// rolled back.
			for _, id := range level {
				record(MigrationOutcome{
					Identity:  id,
					Requested: requested[id.Key()],
					Status:    StatusSkipped,
					Error:     "run cancelled before start",
				})
			}
			continue
		}

		queue := make(chan artifact.Identity, len(level))
		for _, id := range level {
			queue <- id
		}
		close(queue)

		n := workers
		if len(level) < n {
			n = len(level)
		}
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for id := range queue {
					record(m.migrateOne(ctx, plan, id, requested[id.Key()], deps[id.Key()], settled, &mu, destination))
				}
			}()
		}
		wg.Wait()
	}

	for _, o := range report.Outcomes {
		switch o.Status {
		case StatusCreated:
			report.Summary.Migrated++
		case StatusAlreadyExists:
			report.Summary.AlreadyExists++
		case StatusSkipped:
			report.Summary.Skipped++
		case StatusFailed:
			report.Summary.Failed++
		}
	}

	report.Duration = time.Since(report.StartedAt)
	m.logger.Info().
		Str("run", report.RunID).
		Int("migrated", report.Summary.Migrated).
		Int("alreadyExists", report.Summary.AlreadyExists).
		Int("failed", report.Summary.Failed).
		Dur("duration", report.Duration).
		Msg("Migration run finished")
	return report, nil
}

func (m *Migrator) migrateOne(ctx context.Context, plan *MigrationPlan, id artifact.Identity, wasRequested bool, dependsOn []artifact.Identity, settled map[string]bool, mu *sync.Mutex, destination TenantAPI) MigrationOutcome {
	start := time.Now()
	outcome := MigrationOutcome{Identity: id, Requested: wasRequested}

	fail := func(err error) MigrationOutcome {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		outcome.ErrorCode = errdefs.CodeOf(err)
		outcome.Duration = time.Since(start)
		if m.Metrics != nil {
			m.Metrics.RecordError(string(errdefs.ClassOf(err)), errdefs.CodeOf(err))
		}
		m.logger.Warn().Err(err).Str("package", id.String()).Msg("Migration unit failed")
		return outcome
	}

	// Dependency gating: every dependency must already be visible on the
	// destination.
	mu.Lock()
	for _, dep := range dependsOn {
		if !settled[dep.Key()] {
			mu.Unlock()
			outcome.Status = StatusSkipped
			outcome.Error = fmt.Sprintf("dependency %s was not migrated", dep)
			outcome.ErrorCode = errdefs.CodeDependencyFailed
			outcome.Duration = time.Since(start)
			return outcome
		}
	}
	mu.Unlock()

	var present bool
	err := orchestrator.Retry(ctx, m.retry, func() error {
		var herr error
		present, herr = destination.HasPackage(ctx, id)
		return herr
	})
	if err != nil {
		return fail(err)
	}

	pkg := plan.packages[id.Key()]
	if present {
		if m.VerifyContent {
			var remote *artifact.Package
			err := orchestrator.Retry(ctx, m.retry, func() error {
				var derr error
				remote, derr = destination.DownloadPackage(ctx, id)
				return derr
			})
			if err != nil {
				return fail(err)
			}
			if remote != nil && remote.ContentHash != pkg.ContentHash {
				return fail(errdefs.NewConflict(
					fmt.Sprintf("package %s exists on destination with different content", id), nil).
					WithCode(errdefs.CodeVersionConflict).
					WithResource(id.String()))
			}
		}
		outcome.Status = StatusAlreadyExists
		outcome.Duration = time.Since(start)
		return outcome
	}

	uploadStart := time.Now()
	var status orchestrator.PublishStatus
	err = orchestrator.Retry(ctx, m.retry, func() error {
		var uerr error
		status, uerr = destination.Upload(ctx, pkg)
		return uerr
	})
	if err != nil {
		// A 409 means the identity appeared with different content; the
		// destination copy is left untouched.
		return fail(err)
	}
	if m.Metrics != nil {
		m.Metrics.RecordUpload(destination.Tenant().Name, string(status), time.Since(uploadStart))
	}

	if status == orchestrator.PublishAlreadyExists {
		outcome.Status = StatusAlreadyExists
	} else {
		outcome.Status = StatusCreated
	}
	outcome.Duration = time.Since(start)
	return outcome
}
