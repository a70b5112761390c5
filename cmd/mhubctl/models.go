package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

func newModelsCmd(client func() *apiClient) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "models [id]",
		Short: "List catalog models or show one",
		Long:  "Lists the model catalog joined with local image status, or shows the full descriptor of one model id.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if len(args) == 1 {
				var m types.ModelWithStatus
				if err := c.getJSON(cmd.Context(), "/models/"+args[0], &m); err != nil {
					return err
				}
				return printModel(cmd, m)
			}
			path := "/models"
			if query != "" {
				path += "?q=" + query
			}
			var resp types.ModelsResponse
			if err := c.getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}
			printModelsTable(cmd, resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "Filter models by name, label, description or modality")
	return cmd
}

func printModelsTable(cmd *cobra.Command, resp types.ModelsResponse) {
	cmd.Printf("%-28s %-12s %-10s %s\n", "ID", "STATUS", "DICOM-IN", "LABEL")
	for _, m := range resp.Models {
		dicom := "no"
		if m.InputCompatible {
			dicom = "yes"
		}
		cmd.Printf("%-28s %-12s %-10s %s\n", m.ID, m.Status, dicom, m.Label)
	}
	cmd.Printf("\n%d models (catalog refreshed %s)\n", len(resp.Models), fmtUnix(resp.RefreshedUnix))
}

func printModel(cmd *cobra.Command, m types.ModelWithStatus) error {
	cmd.Printf("ID:           %s\n", m.ID)
	cmd.Printf("Label:        %s\n", m.Label)
	cmd.Printf("Status:       %s\n", m.Status)
	cmd.Printf("Image:        %s\n", m.Image)
	cmd.Printf("Docs:         %s\n", m.DocURL)
	if len(m.Modalities) > 0 {
		cmd.Printf("Modalities:   %s\n", strings.Join(m.Modalities, ", "))
	}
	if len(m.Segmentations) > 0 {
		cmd.Printf("Segments:     %s\n", strings.Join(m.Segmentations, ", "))
	}
	if m.Description != "" {
		cmd.Printf("\n%s\n", m.Description)
	}
	return nil
}

func newPullCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model-id>",
		Short: "Pull or update a model's container image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().streamNDJSON(cmd.Context(), "POST", "/models/"+args[0]+"/pull", func(raw []byte) error {
				var p types.PullProgress
				if err := json.Unmarshal(raw, &p); err == nil && p.Line != "" {
					cmd.Println(p.Line)
					return nil
				}
				var e types.ErrorResponse
				if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
					return fmt.Errorf("pull failed: %s", e.Error)
				}
				return nil
			})
		},
	}
}

func newRemoveImageCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "rmi <model-id>",
		Short: "Remove a model's local container image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().delete(cmd.Context(), "/models/"+args[0]+"/image", nil); err != nil {
				return err
			}
			cmd.Printf("image for %s removed\n", args[0])
			return nil
		},
	}
}

func newRefreshCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a catalog refresh from the model index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Models int `json:"models"`
			}
			if err := client().postJSON(cmd.Context(), "/catalog/refresh", nil, &out); err != nil {
				return err
			}
			cmd.Printf("catalog refreshed: %d models\n", out.Models)
			return nil
		},
	}
}
