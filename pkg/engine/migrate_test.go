package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
)

func newTestMigrator() *Migrator {
	return NewMigrator(zerolog.Nop())
}

func migrationOutcomeFor(t *testing.T, report *MigrationReport, name string) MigrationOutcome {
	t.Helper()
	for _, o := range report.Outcomes {
		if o.Identity.Name == name {
			return o
		}
	}
	t.Fatalf("no outcome for %s in %+v", name, report.Outcomes)
	return MigrationOutcome{}
}

func uploadIndex(t *testing.T, tenant *fakeTenant, name string) int {
	t.Helper()
	for i, id := range tenant.uploadOrder() {
		if id.Name == name {
			return i
		}
	}
	t.Fatalf("%s was never uploaded; order %v", name, tenant.uploadOrder())
	return -1
}

func TestMigrateDependencyAlreadyPresent(t *testing.T) {
	b := makePackage(t, "PackageB", "1.0.0", "b", nil)
	a := makePackage(t, "PackageA", "1.0.0", "a", map[string]string{"PackageB": "1.0.0"})

	source := newFakeTenant("x")
	source.publish(a, b)
	destination := newFakeTenant("y")
	destination.publish(b)

	m := newTestMigrator()
	plan, err := m.Plan(context.Background(), source, destination, []artifact.Identity{a.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Units) != 2 {
		t.Fatalf("plan has %d units, want 2 (closure pulls in PackageB)", len(plan.Units))
	}

	report, err := m.Execute(context.Background(), plan, destination)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if o := migrationOutcomeFor(t, report, "PackageB"); o.Status != StatusAlreadyExists || o.Requested {
		t.Errorf("PackageB outcome = %+v, want alreadyExists and not requested", o)
	}
	if o := migrationOutcomeFor(t, report, "PackageA"); o.Status != StatusCreated || !o.Requested {
		t.Errorf("PackageA outcome = %+v, want created and requested", o)
	}
	if got := destination.uploadOrder(); len(got) != 1 || got[0].Name != "PackageA" {
		t.Errorf("destination uploads = %v, want only PackageA", got)
	}
	if report.Summary.Migrated != 1 || report.Summary.AlreadyExists != 1 {
		t.Errorf("summary = %+v, want migrated 1, alreadyExists 1", report.Summary)
	}
}

func TestMigrateOrdersDependenciesFirst(t *testing.T) {
	a := makePackage(t, "Base", "1.0.0", "base", nil)
	b := makePackage(t, "Middle", "1.0.0", "middle", map[string]string{"Base": "1.0.0"})
	c := makePackage(t, "Top", "1.0.0", "top", map[string]string{"Middle": "1.0.0"})

	source := newFakeTenant("x")
	source.publish(a, b, c)
	destination := newFakeTenant("y")

	m := newTestMigrator()
	plan, err := m.Plan(context.Background(), source, destination, []artifact.Identity{c.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := m.Execute(context.Background(), plan, destination)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Summary.Migrated != 3 || report.Summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 3 migrated", report.Summary)
	}

	base := uploadIndex(t, destination, "Base")
	middle := uploadIndex(t, destination, "Middle")
	top := uploadIndex(t, destination, "Top")
	if !(base < middle && middle < top) {
		t.Errorf("upload order %v violates dependency order", destination.uploadOrder())
	}
}

func TestPlanPinsHighestSatisfyingVersion(t *testing.T) {
	dep10 := makePackage(t, "Dep", "1.0.0", "dep10", nil)
	dep15 := makePackage(t, "Dep", "1.5.0", "dep15", nil)
	dep20 := makePackage(t, "Dep", "2.0.0", "dep20", nil)
	app := makePackage(t, "App", "1.0.0", "app", map[string]string{"Dep": "[1.0.0,2.0.0)"})

	source := newFakeTenant("x")
	source.publish(dep10, dep15, dep20, app)

	m := newTestMigrator()
	plan, err := m.Plan(context.Background(), source, newFakeTenant("y"), []artifact.Identity{app.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var pinned []string
	for _, u := range plan.Units {
		if u.Identity.Name == "Dep" {
			pinned = append(pinned, u.Identity.Version)
		}
	}
	if len(pinned) != 1 || pinned[0] != "1.5.0" {
		t.Fatalf("pinned Dep versions = %v, want exactly 1.5.0", pinned)
	}
}

func TestPlanCycleFailsBeforeUpload(t *testing.T) {
	a := makePackage(t, "A", "1.0.0", "a", map[string]string{"B": "1.0.0"})
	b := makePackage(t, "B", "1.0.0", "b", map[string]string{"A": "1.0.0"})

	source := newFakeTenant("x")
	source.publish(a, b)
	destination := newFakeTenant("y")

	m := newTestMigrator()
	_, err := m.Plan(context.Background(), source, destination, []artifact.Identity{a.Identity})
	if errdefs.CodeOf(err) != errdefs.CodeCyclicDependency {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeCyclicDependency)
	}
	if len(destination.uploadOrder()) != 0 {
		t.Errorf("uploads happened during a failed plan: %v", destination.uploadOrder())
	}
}

func TestPlanMissingPackage(t *testing.T) {
	m := newTestMigrator()
	_, err := m.Plan(context.Background(), newFakeTenant("x"), newFakeTenant("y"),
		[]artifact.Identity{{Name: "Ghost", Version: "1.0.0"}})
	if errdefs.CodeOf(err) != errdefs.CodeNotFound {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeNotFound)
	}
}

func TestPlanUnsatisfiableDependency(t *testing.T) {
	dep := makePackage(t, "Dep", "1.0.0", "dep", nil)
	app := makePackage(t, "App", "1.0.0", "app", map[string]string{"Dep": "[2.0.0]"})

	source := newFakeTenant("x")
	source.publish(dep, app)

	m := newTestMigrator()
	_, err := m.Plan(context.Background(), source, newFakeTenant("y"), []artifact.Identity{app.Identity})
	if errdefs.CodeOf(err) != errdefs.CodeUnsatisfiableDependency {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeUnsatisfiableDependency)
	}
}

func TestPlanExcludesPlatformPackages(t *testing.T) {
	app := makePackage(t, "App", "1.0.0", "app", map[string]string{
		"UiPath.System.Activities": "22.10.3",
	})
	source := newFakeTenant("x")
	source.publish(app)

	m := newTestMigrator()
	plan, err := m.Plan(context.Background(), source, newFakeTenant("y"), []artifact.Identity{app.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Units) != 1 || plan.Units[0].Identity.Name != "App" {
		t.Fatalf("plan units = %+v, want only App", plan.Units)
	}
}

func TestPlanAuthenticationFailure(t *testing.T) {
	source := newFakeTenant("x")
	source.authFail = true

	m := newTestMigrator()
	_, err := m.Plan(context.Background(), source, newFakeTenant("y"), nil)
	if errdefs.CodeOf(err) != errdefs.CodeAuthenticationFailed {
		t.Fatalf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeAuthenticationFailed)
	}
}

func TestMigrateSkipsDependentsOfFailedUnit(t *testing.T) {
	dep := makePackage(t, "Dep", "1.0.0", "dep-source", nil)
	app := makePackage(t, "App", "1.0.0", "app", map[string]string{"Dep": "1.0.0"})

	source := newFakeTenant("x")
	source.publish(dep, app)
	// Destination already has Dep under the same identity but with different
	// content; verification turns that into a conflict.
	destination := newFakeTenant("y")
	destination.publish(makePackage(t, "Dep", "1.0.0", "dep-diverged", nil))

	m := newTestMigrator()
	m.VerifyContent = true
	plan, err := m.Plan(context.Background(), source, destination, []artifact.Identity{app.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := m.Execute(context.Background(), plan, destination)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if o := migrationOutcomeFor(t, report, "Dep"); o.Status != StatusFailed || o.ErrorCode != errdefs.CodeVersionConflict {
		t.Errorf("Dep outcome = %+v, want failed with %s", o, errdefs.CodeVersionConflict)
	}
	if o := migrationOutcomeFor(t, report, "App"); o.Status != StatusSkipped || o.ErrorCode != errdefs.CodeDependencyFailed {
		t.Errorf("App outcome = %+v, want skipped with %s", o, errdefs.CodeDependencyFailed)
	}
	if len(destination.uploadOrder()) != 0 {
		t.Errorf("App was uploaded despite its dependency failing: %v", destination.uploadOrder())
	}
}

func TestMigrateWithoutVerificationTrustsIdentity(t *testing.T) {
	dep := makePackage(t, "Dep", "1.0.0", "dep-source", nil)
	source := newFakeTenant("x")
	source.publish(dep)
	destination := newFakeTenant("y")
	destination.publish(makePackage(t, "Dep", "1.0.0", "dep-diverged", nil))

	m := newTestMigrator()
	plan, err := m.Plan(context.Background(), source, destination, []artifact.Identity{dep.Identity})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := m.Execute(context.Background(), plan, destination)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if o := migrationOutcomeFor(t, report, "Dep"); o.Status != StatusAlreadyExists {
		t.Errorf("outcome = %+v, want alreadyExists when verification is off", o)
	}
}
