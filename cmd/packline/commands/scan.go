package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coordtech/packline/pkg/project"
)

func newScanCommand() *cobra.Command {
	var (
		root  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover automation projects",
		Long: `Scan a directory tree for project descriptors and list the discovered
projects. Malformed descriptors are reported and skipped; they never abort
the scan.`,
		Example: `  # Scan the configured root
  packline scan

  # Scan a specific directory
  packline scan --root ./automation

  # Keep watching for descriptor changes
  packline scan --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			if root == "" {
				root = rt.cfg.ScanRoot
			}

			scanner := project.NewScanner(rt.logger())

			printResult := func(projects []*project.Project, summary *project.ScanSummary) {
				if jsonOutput {
					printJSON(map[string]interface{}{
						"projects": projects,
						"summary":  summary,
					})
					return
				}
				for _, p := range projects {
					fmt.Printf("%-40s %-12s %s\n", p.Name, p.Version, p.Root)
				}
				fmt.Printf("\n%d project(s), %d skipped\n", summary.Scanned, len(summary.Skipped))
				for _, s := range summary.Skipped {
					fmt.Printf("  skipped %s: %s\n", s.Path, s.Reason)
				}
			}

			if watch {
				return scanner.Watch(cmd.Context(), root, printResult)
			}

			projects, summary, err := scanner.ScanAll(cmd.Context(), root)
			if err != nil {
				return err
			}
			printResult(projects, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "directory to scan (defaults to scanRoot from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "watch for descriptor changes and rescan")

	return cmd
}
