package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coordtech/packline/pkg/builder"
	"github.com/coordtech/packline/pkg/engine"
	"github.com/coordtech/packline/pkg/project"
	"github.com/coordtech/packline/pkg/resolver"
	"github.com/coordtech/packline/pkg/telemetry"
)

func newPublishCommand() *cobra.Command {
	var (
		tenantName string
		root       string
		projectDir string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Build and publish projects to a tenant",
		Long: `Resolve, build, and upload every discovered project to the tenant's package
feed. Projects are independent; one failure never blocks the rest, and the
run always finishes with a complete per-project report.

Publishing is idempotent: a package whose identical content is already on
the tenant is reported as alreadyExists, and an identity that exists with
different content fails with a version conflict rather than overwriting.`,
		Example: `  # Publish everything under the configured scan root
  packline publish --tenant prod

  # Publish a single project directory
  packline publish --tenant prod --project ./invoices

  # Publish a different tree
  packline publish --tenant staging --root ./automation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(cmd.Context())

			var projects []*project.Project
			if projectDir != "" {
				p, err := project.Load(projectDir)
				if err != nil {
					return err
				}
				projects = []*project.Project{p}
			} else {
				if root == "" {
					root = rt.cfg.ScanRoot
				}
				scanner := project.NewScanner(rt.logger())
				var summary *project.ScanSummary
				projects, summary, err = scanner.ScanAll(cmd.Context(), root)
				if err != nil {
					return err
				}
				logger := rt.logger()
				for _, s := range summary.Skipped {
					logger.Warn().Str("path", s.Path).Str("reason", s.Reason).Msg("Descriptor skipped")
				}
			}
			if len(projects) == 0 {
				return fmt.Errorf("no projects found to publish")
			}

			c, err := rt.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			registry, err := rt.buildRegistry(c)
			if err != nil {
				return err
			}
			client, err := rt.tenantClient(tenantName)
			if err != nil {
				return err
			}

			res := resolver.New(rt.logger())
			res.Metrics = rt.tel.Metrics

			coord := engine.NewCoordinator(
				registry,
				res,
				builder.New(c, builder.NewCLIInvoker(), rt.logger()),
				rt.logger(),
			)
			coord.Metrics = rt.tel.Metrics
			if rt.cfg.MaxParallel > 0 {
				coord.MaxParallel = rt.cfg.MaxParallel
			}

			rt.tel.Metrics.RecordRunStarted("publish")
			ctx, span := rt.tel.Tracer.StartPublishSpan(cmd.Context(), "", client.Tenant().String())
			report, err := coord.Publish(ctx, projects, client)
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				rt.tel.Metrics.RecordRunCompleted("publish", "aborted", 0)
				return err
			}
			span.SetAttributes(telemetry.AttrRunID.String(report.RunID))
			span.End()

			status := "succeeded"
			if report.Summary.Failed > 0 {
				status = "failed"
			}
			rt.tel.Metrics.RecordRunCompleted("publish", status, report.Duration)
			recordPublishOutcomes(rt.tel, report)

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printPublishReport(report)
			}
			return summarizeRun(report.Summary.Failed)
		},
	}

	cmd.Flags().StringVarP(&tenantName, "tenant", "t", "", "destination tenant name (from config)")
	cmd.Flags().StringVar(&root, "root", "", "directory tree to scan for projects")
	cmd.Flags().StringVar(&projectDir, "project", "", "publish a single project directory")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func printPublishReport(report *engine.PublishReport) {
	fmt.Printf("Run %s -> %s\n\n", report.RunID, report.Tenant)
	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  %-40s %-14s", o.Identity, o.Status)
		if o.CacheHit {
			line += " (cache)"
		}
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Println(line)
	}
	s := report.Summary
	fmt.Printf("\n%d total: %d uploaded, %d already present, %d skipped, %d failed (%s)\n",
		s.Total, s.Uploaded, s.AlreadyExists, s.Skipped, s.Failed, report.Duration.Round(10*time.Millisecond))
}
