package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/engine"
	"github.com/coordtech/packline/pkg/telemetry"
)

func newMigrateCommand() *cobra.Command {
	var (
		fromTenant string
		toTenant   string
		all        bool
		verify     bool
		planOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "migrate [Name@Version ...]",
		Short: "Migrate packages between tenants",
		Long: `Move published packages from one tenant to another with their full
dependency closure. Dependencies always land on the destination before their
dependents; a cyclic dependency graph fails the whole plan before anything
is uploaded.

Packages already present on the destination under the same identity are
skipped. With --verify their content is compared first, and divergent
content fails as a version conflict instead of being silently trusted.`,
		Example: `  # Migrate one package and everything it depends on
  packline migrate Invoices.Processing@1.4.2 --from prod --to dr

  # Migrate everything on the source tenant
  packline migrate --all --from prod --to dr

  # Show the plan without executing it
  packline migrate Invoices.Processing@1.4.2 --from prod --to dr --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one package, or pass --all")
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(cmd.Context())

			source, err := rt.tenantClient(fromTenant)
			if err != nil {
				return err
			}
			destination, err := rt.tenantClient(toTenant)
			if err != nil {
				return err
			}

			var requested []artifact.Identity
			if all {
				if err := source.Authenticate(cmd.Context()); err != nil {
					return err
				}
				requested, err = source.ListPackages(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				requested, err = parseIdentities(args)
				if err != nil {
					return err
				}
			}

			migrator := engine.NewMigrator(rt.logger())
			migrator.VerifyContent = verify
			migrator.Metrics = rt.tel.Metrics
			if rt.cfg.MaxParallel > 0 {
				migrator.MaxParallel = rt.cfg.MaxParallel
			}

			plan, err := migrator.Plan(cmd.Context(), source, destination, requested)
			if err != nil {
				return err
			}

			if planOnly {
				if jsonOutput {
					return printJSON(plan)
				}
				fmt.Printf("Plan %s -> %s (%d package(s))\n\n", plan.Source, plan.Destination, len(plan.Units))
				for _, u := range plan.Units {
					marker := " "
					if u.Requested {
						marker = "*"
					}
					fmt.Printf("  %s %s\n", marker, u.Identity)
				}
				return nil
			}

			rt.tel.Metrics.RecordRunStarted("migrate")
			ctx, span := rt.tel.Tracer.StartMigrationSpan(cmd.Context(), "", plan.Source, plan.Destination)
			report, err := migrator.Execute(ctx, plan, destination)
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				rt.tel.Metrics.RecordRunCompleted("migrate", "aborted", 0)
				return err
			}
			span.SetAttributes(telemetry.AttrRunID.String(report.RunID))
			span.End()

			status := "succeeded"
			if report.Summary.Failed > 0 {
				status = "failed"
			}
			rt.tel.Metrics.RecordRunCompleted("migrate", status, report.Duration)
			recordMigrationOutcomes(rt.tel, report)

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printMigrationReport(report)
			}
			return summarizeRun(report.Summary.Failed)
		},
	}

	cmd.Flags().StringVar(&fromTenant, "from", "", "source tenant name (from config)")
	cmd.Flags().StringVar(&toTenant, "to", "", "destination tenant name (from config)")
	cmd.Flags().BoolVar(&all, "all", false, "migrate every package on the source tenant")
	cmd.Flags().BoolVar(&verify, "verify", false, "compare content of packages already on the destination")
	cmd.Flags().BoolVar(&planOnly, "dry-run", false, "compute and show the plan without executing")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	return cmd
}

// parseIdentities parses Name@Version arguments.
func parseIdentities(args []string) ([]artifact.Identity, error) {
	out := make([]artifact.Identity, 0, len(args))
	for _, arg := range args {
		name, ver, ok := strings.Cut(arg, "@")
		if !ok || name == "" || ver == "" {
			return nil, fmt.Errorf("invalid package reference %q, expected Name@Version", arg)
		}
		out = append(out, artifact.Identity{Name: name, Version: ver})
	}
	return out, nil
}

func printMigrationReport(report *engine.MigrationReport) {
	fmt.Printf("Run %s: %s -> %s\n\n", report.RunID, report.Source, report.Destination)
	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  %-40s %-14s", o.Identity, o.Status)
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Println(line)
	}
	s := report.Summary
	fmt.Printf("\n%d total: %d migrated, %d already present, %d skipped, %d failed (%s)\n",
		s.Total, s.Migrated, s.AlreadyExists, s.Skipped, s.Failed, report.Duration.Round(10*time.Millisecond))
}
