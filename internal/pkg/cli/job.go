package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
)

// NewJobCommand groups job inspection subcommands
func NewJobCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}
	cmd.AddCommand(newJobGetCommand(opts))
	cmd.AddCommand(newJobListCommand(opts))
	return cmd
}

func newJobGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job and its conversion checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				job, found, err := c.Stores.Jobs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("job %s not found", args[0])
				}
				checkpoints, err := c.Stores.Conversions.ListByJob(ctx, job.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					return writeJSON(out, map[string]interface{}{
						"job":         job,
						"conversions": checkpoints,
					})
				}

				fmt.Fprintf(out, "id:      %s\n", job.ID)
				fmt.Fprintf(out, "state:   %s\n", job.State)
				fmt.Fprintf(out, "created: %s\n", job.CreatedAt.UTC().Format(time.RFC3339Nano))
				fmt.Fprintf(out, "updated: %s\n", job.UpdatedAt.UTC().Format(time.RFC3339Nano))
				if job.Error != nil {
					fmt.Fprintf(out, "error:   %s: %s\n", job.Error.Code, job.Error.Message)
				}
				for k, v := range job.Result {
					fmt.Fprintf(out, "result.%s: %v\n", k, v)
				}
				for _, cp := range checkpoints {
					fmt.Fprintf(out, "checkpoint %-18s csp=%s\n", cp.State, cp.CSPAppointmentID)
				}
				return nil
			})
		},
	}
}

func newJobListCommand(opts *RootOptions) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in one state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := models.JobState(state)
			switch s {
			case models.JobStateQueued, models.JobStateRunning, models.JobStateSucceeded,
				models.JobStateFailed, models.JobStateRolledBack:
			default:
				return fmt.Errorf("unknown state %q", state)
			}

			return opts.withComponents(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				jobs, err := c.Stores.Jobs.ListByState(ctx, s)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					return writeJSON(out, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintf(out, "No %s jobs.\n", s)
					return nil
				}
				for _, j := range jobs {
					fmt.Fprintf(out, "%s  %s  %s\n", j.ID, j.State, j.UpdatedAt.UTC().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", string(models.JobStateRunning), "job state to list")
	return cmd
}
