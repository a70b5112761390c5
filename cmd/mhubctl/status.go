package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

func newGPUsCmd(client func() *apiClient) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "gpus",
		Short: "List GPUs visible to the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/gpus"
			if refresh {
				path += "?refresh=1"
			}
			var resp types.GPUsResponse
			if err := client().getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if len(resp.GPUs) == 0 {
				cmd.Println("no GPUs detected; runs will use the CPU")
				return nil
			}
			cmd.Printf("%-6s %-32s %-10s %s\n", "INDEX", "NAME", "MEMORY", "AVAILABLE")
			for _, g := range resp.GPUs {
				avail := "no"
				if g.Available {
					avail = "yes"
				}
				cmd.Printf("%-6d %-32s %-10s %s\n", g.Index, g.Name, fmt.Sprintf("%d MiB", g.MemoryMB), avail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-enumerate devices instead of using the cache")
	return cmd
}

func newStatusCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st types.StatusResponse
			if err := client().getJSON(cmd.Context(), "/status", &st); err != nil {
				return err
			}
			avail := "unavailable"
			if st.Backend.Available {
				avail = "available"
			}
			cmd.Printf("Backend:   %s (%s)\n", st.Backend.Name, avail)
			if st.Backend.Version != "" {
				cmd.Printf("Version:   %s\n", st.Backend.Version)
			}
			cmd.Printf("Jobs:      %d active / %d total\n", st.ActiveJobs, st.TotalJobs)
			cmd.Printf("Catalog:   %d models (refreshed %s)\n", st.CatalogModels, fmtUnix(st.CatalogRefreshedUnix))
			cmd.Printf("Uptime:    %ds\n", st.UptimeSeconds)
			return nil
		},
	}
}
