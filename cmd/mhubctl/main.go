package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "mhubctl",
		Short: "mhubctl — control a running mhubd daemon",
		Long:  "mhubctl talks to the mhubd HTTP API: browse the model catalog, manage local images, submit runs and follow their logs.",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "addr", envOr("MHUBD_ADDR", "http://127.0.0.1:8585"), "Base URL of the mhubd daemon")

	client := func() *apiClient { return newAPIClient(baseURL) }

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newModelsCmd(client))
	cmd.AddCommand(newPullCmd(client))
	cmd.AddCommand(newRemoveImageCmd(client))
	cmd.AddCommand(newRefreshCmd(client))
	cmd.AddCommand(newGPUsCmd(client))
	cmd.AddCommand(newRunCmd(client))
	cmd.AddCommand(newJobsCmd(client))
	cmd.AddCommand(newLogsCmd(client))
	cmd.AddCommand(newCancelCmd(client))
	cmd.AddCommand(newKillAllCmd(client))
	cmd.AddCommand(newClearCmd(client))
	cmd.AddCommand(newStatusCmd(client))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mhubctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
