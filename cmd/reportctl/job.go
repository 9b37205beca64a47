package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/manifest"
	"github.com/spf13/cobra"
)

type jobView struct {
	ID           uuid.UUID        `json:"id"`
	Type         domain.JobType   `json:"job_type"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Output       json.RawMessage  `json:"output,omitempty"`
	ClaimedBy    string           `json:"claimed_by,omitempty"`
	UpdatedAt    string           `json:"updated_at"`
}

func (c *cli) newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job [job-id]",
		Short: "Print a job's status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}

			b, err := c.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			job, err := b.Jobs.GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobView{
				ID:           job.ID,
				Type:         job.Type,
				Status:       job.Status,
				ErrorMessage: job.ErrorMessage,
				Output:       job.Output,
				ClaimedBy:    job.ClaimedBy,
				UpdatedAt:    job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		},
	}
}

func (c *cli) newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with image manifests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "template [file.xlsx]",
		Short: "Write an empty manifest with the expected columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := manifest.Write(f, nil); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}
