package engine

import (
	"time"

	"github.com/coordtech/packline/pkg/artifact"
)

// RunMetrics receives per-step measurements from runs: builds, uploads, and
// classified failures. Satisfied by the telemetry metrics collector; a nil
// recorder disables collection.
type RunMetrics interface {
	RecordBuild(status string, cacheHit bool, duration time.Duration)
	RecordUpload(tenant, status string, duration time.Duration)
	RecordError(errorClass, errorCode string)
}

// UnitStatus is the terminal state of one project or identity within a run.
type UnitStatus string

const (
	// StatusCreated means the package was published to the destination.
	StatusCreated UnitStatus = "created"

	// StatusAlreadyExists means an identical package was already present;
	// nothing was uploaded.
	StatusAlreadyExists UnitStatus = "alreadyExists"

	// StatusSkipped means the unit never ran, either because a dependency
	// failed or because the run was cancelled.
	StatusSkipped UnitStatus = "skipped"

	// StatusFailed means the unit ran and failed terminally.
	StatusFailed UnitStatus = "failed"
)

// PublishOutcome is the per-project result of a publish run.
type PublishOutcome struct {
	Project   string            `json:"project"`
	Identity  artifact.Identity `json:"identity"`
	Status    UnitStatus        `json:"status"`
	CacheHit  bool              `json:"cacheHit,omitempty"`
	Feeds     []string          `json:"feeds,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"errorCode,omitempty"`
}

// PublishSummary aggregates a publish run.
type PublishSummary struct {
	Total         int `json:"total"`
	Built         int `json:"built"`
	CacheHits     int `json:"cacheHits"`
	Uploaded      int `json:"uploaded"`
	AlreadyExists int `json:"alreadyExists"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// PublishReport is the structured result of one publish run. Batches always
// complete with a mixed report; per-project failures never abort the run.
type PublishReport struct {
	RunID     string           `json:"runId"`
	Tenant    string           `json:"tenant"`
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
	Summary   PublishSummary   `json:"summary"`
	Outcomes  []PublishOutcome `json:"outcomes"`
}

// MigrationUnit is one identity in a migration plan.
type MigrationUnit struct {
	Identity artifact.Identity `json:"identity"`

	// Requested is false for identities pulled in by closure traversal.
	Requested bool `json:"requested"`

	// DependsOn lists the direct dependencies within the plan.
	DependsOn []artifact.Identity `json:"dependsOn,omitempty"`
}

// MigrationPlan is the computed closure for one migration request, ordered
// so dependencies are always visible on the destination before their
// dependents. Discarded after execution.
type MigrationPlan struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Units       []MigrationUnit `json:"units"`

	levels   [][]artifact.Identity
	packages map[string]*artifact.Package
	graph    *depGraph
}

// MigrationOutcome is the per-identity result of a migration run.
type MigrationOutcome struct {
	Identity  artifact.Identity `json:"identity"`
	Requested bool              `json:"requested"`
	Status    UnitStatus        `json:"status"`
	Duration  time.Duration     `json:"duration"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"errorCode,omitempty"`
}

// MigrationSummary aggregates a migration run.
type MigrationSummary struct {
	Total         int `json:"total"`
	Migrated      int `json:"migrated"`
	AlreadyExists int `json:"alreadyExists"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// MigrationReport is the structured result of executing a migration plan.
type MigrationReport struct {
	RunID       string             `json:"runId"`
	Source      string             `json:"source"`
	Destination string             `json:"destination"`
	StartedAt   time.Time          `json:"startedAt"`
	Duration    time.Duration      `json:"duration"`
	Summary     MigrationSummary   `json:"summary"`
	Outcomes    []MigrationOutcome `json:"outcomes"`
}
