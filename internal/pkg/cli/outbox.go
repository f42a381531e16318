package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
)

// NewOutboxCommand groups webhook outbox subcommands
func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the webhook outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "depth",
		Short: "Show pending, dead-letter and queue sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				pending, dead, err := c.Outbox.Depth(ctx)
				if err != nil {
					return err
				}
				queued, err := c.Queue.Depth(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					return writeJSON(out, map[string]int64{
						"outbox_pending":      pending,
						"outbox_dead_letters": dead,
						"queue_depth":         queued,
					})
				}
				fmt.Fprintf(out, "outbox pending:      %d\n", pending)
				fmt.Fprintf(out, "outbox dead letters: %d\n", dead)
				fmt.Fprintf(out, "queue depth:         %d\n", queued)
				return nil
			})
		},
	})
	return cmd
}
