package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

func newRunCmd(client func() *apiClient) *cobra.Command {
	var (
		image      string
		inputDir   string
		outputDir  string
		gpus       string
		extraArgs  []string
		follow     bool
		executable string
	)

	cmd := &cobra.Command{
		Use:   "run [model-id]",
		Short: "Submit an inference run",
		Long:  "Submits a containerized run of a catalog model (or an explicit --image) over a DICOM input directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.RunRequest{
				Image:      image,
				InputDir:   inputDir,
				OutputDir:  outputDir,
				Args:       extraArgs,
				Executable: executable,
			}
			if len(args) == 1 {
				req.Model = args[0]
			}
			var err error
			if req.GPUs, err = parseGPUList(gpus); err != nil {
				return err
			}

			c := client()
			var sub types.SubmitResponse
			if err := c.postJSON(cmd.Context(), "/jobs", req, &sub); err != nil {
				return err
			}
			cmd.Printf("job %s submitted\n", sub.JobID)
			if !follow {
				return nil
			}
			return followLogs(cmd, c, sub.JobID)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Explicit image reference instead of a catalog model")
	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Input DICOM directory (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (required)")
	cmd.Flags().StringVar(&gpus, "gpus", "", "Comma-separated GPU indices, e.g. 0 or 0,1")
	cmd.Flags().StringArrayVar(&extraArgs, "arg", nil, "Extra container argument (repeatable)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream job logs after submitting")
	cmd.Flags().StringVar(&executable, "executable", "", "Override the engine executable for this run")
	return cmd
}

func parseGPUList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid GPU index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func newJobsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs [id]",
		Short: "List jobs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if len(args) == 1 {
				var j types.JobView
				if err := c.getJSON(cmd.Context(), "/jobs/"+args[0], &j); err != nil {
					return err
				}
				printJob(cmd, j)
				return nil
			}
			var resp types.JobsResponse
			if err := c.getJSON(cmd.Context(), "/jobs", &resp); err != nil {
				return err
			}
			cmd.Printf("%-38s %-10s %-28s %s\n", "ID", "STATE", "MODEL/IMAGE", "CREATED")
			for _, j := range resp.Jobs {
				name := j.Request.Model
				if name == "" {
					name = j.Image
				}
				cmd.Printf("%-38s %-10s %-28s %s\n", j.ID, j.State, name, fmtUnix(j.CreatedUnix))
			}
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, j types.JobView) {
	cmd.Printf("ID:        %s\n", j.ID)
	cmd.Printf("State:     %s\n", j.State)
	cmd.Printf("Image:     %s\n", j.Image)
	cmd.Printf("Input:     %s\n", j.Request.InputDir)
	cmd.Printf("Output:    %s\n", j.Request.OutputDir)
	if j.Reason != "" {
		cmd.Printf("Reason:    %s\n", j.Reason)
	}
	if j.State.Terminal() {
		cmd.Printf("Exit code: %d\n", j.ExitCode)
	}
	cmd.Printf("Created:   %s\n", fmtUnix(j.CreatedUnix))
	cmd.Printf("Started:   %s\n", fmtUnix(j.StartedUnix))
	cmd.Printf("Finished:  %s\n", fmtUnix(j.FinishedUnix))
}

func newLogsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Stream a job's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followLogs(cmd, client(), args[0])
		},
	}
}

func followLogs(cmd *cobra.Command, c *apiClient, jobID string) error {
	return c.streamNDJSON(cmd.Context(), "GET", "/jobs/"+jobID+"/logs", func(raw []byte) error {
		var line types.LogLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil
		}
		cmd.Println(line.Line)
		return nil
	})
}

func newCancelCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request termination of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().postJSON(cmd.Context(), "/jobs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			cmd.Printf("cancel requested for %s\n", args[0])
			return nil
		},
	}
}

func newKillAllCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "killall",
		Short: "Cancel every non-terminal job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.KillAllResponse
			if err := client().postJSON(cmd.Context(), "/jobs/kill", nil, &resp); err != nil {
				return err
			}
			for _, r := range resp.Results {
				cmd.Printf("%s: %s\n", r.JobID, r.Outcome)
			}
			cmd.Printf("%d jobs killed\n", resp.Killed)
			return nil
		},
	}
}

func newClearCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [job-id]",
		Short: "Drop finished jobs from the registry",
		Long:  "Drops one terminal job by id, or every terminal job when no id is given. Active jobs are never removed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if len(args) == 1 {
				if err := c.delete(cmd.Context(), "/jobs/"+args[0], nil); err != nil {
					return err
				}
				cmd.Printf("job %s cleared\n", args[0])
				return nil
			}
			var out struct {
				Cleared int `json:"cleared"`
			}
			if err := c.delete(cmd.Context(), "/jobs", &out); err != nil {
				return err
			}
			cmd.Printf("%d jobs cleared\n", out.Cleared)
			return nil
		},
	}
}
