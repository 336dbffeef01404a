package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPackagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Inspect cached and published packages",
	}

	cmd.AddCommand(newPackagesListCommand())
	cmd.AddCommand(newPackagesRemoveCommand())

	return cmd
}

func newPackagesListCommand() *cobra.Command {
	var tenantName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages in the local cache or on a tenant",
		Example: `  # List the local cache
  packline packages list

  # List a tenant feed
  packline packages list --tenant prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}

			if tenantName != "" {
				client, err := rt.tenantClient(tenantName)
				if err != nil {
					return err
				}
				ids, err := client.ListPackages(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(ids)
				}
				for _, id := range ids {
					fmt.Printf("%-40s %s\n", id.Name, id.Version)
				}
				fmt.Printf("\n%d package(s) on %s\n", len(ids), client.Tenant())
				return nil
			}

			c, err := rt.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%-40s %-12s %8d bytes  %s\n",
					e.Name, e.Version, e.SizeBytes, e.CreatedAt.Format(time.RFC3339))
			}
			fmt.Printf("\n%d package(s) cached\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantName, "tenant", "t", "", "list a tenant feed instead of the local cache")

	return cmd
}

func newPackagesRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove Name@Version",
		Short: "Remove a package from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}

			ids, err := parseIdentities(args)
			if err != nil {
				return err
			}

			c, err := rt.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Remove(cmd.Context(), ids[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", ids[0])
			return nil
		},
	}

	return cmd
}
