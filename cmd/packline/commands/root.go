package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packline",
		Short: "Packline - package lifecycle coordination for orchestrator tenants",
		Long: `Packline discovers automation projects, resolves their dependencies against
prioritized feeds, builds packages through the platform packaging CLI, and
publishes them to orchestrator tenants.

Features:
  - Project discovery across a directory tree
  - Deterministic dependency resolution (local cache, custom feeds, tenant feed)
  - Content-addressed local package cache
  - Idempotent tenant publishing over OAuth
  - Tenant-to-tenant migration with dependency closure guarantees`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newPackagesCommand())

	return rootCmd
}
