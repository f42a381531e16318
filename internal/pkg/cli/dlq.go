package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
)

// NewDLQCommand groups webhook dead-letter subcommands
func NewDLQCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered webhooks",
	}
	cmd.AddCommand(newDLQListCommand(opts))
	cmd.AddCommand(newDLQReplayCommand(opts))
	return cmd
}

func newDLQListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				dead, err := c.Outbox.ListDeadLetters(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					return writeJSON(out, dead)
				}
				if len(dead) == 0 {
					fmt.Fprintln(out, "Dead-letter queue is empty.")
					return nil
				}
				for i, e := range dead {
					fmt.Fprintf(out, "[%d] %s attempts=%d dead_at=%s last_error=%q\n",
						i, e.URL, e.Attempt, time.UnixMilli(e.DeadAt).UTC().Format(time.RFC3339), e.LastError)
				}
				return nil
			})
		},
	}
}

func newDLQReplayCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "replay [index]",
		Short: "Move dead letters back into the outbox with a fresh attempt budget",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("pass either an index or --all")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("an index is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				out := cmd.OutOrStdout()
				now := time.Now()

				if !all {
					index, err := strconv.Atoi(args[0])
					if err != nil || index < 0 {
						return fmt.Errorf("invalid index %q", args[0])
					}
					e, err := c.Outbox.ReplayDeadLetter(ctx, index, now)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Replayed [%d] %s\n", index, e.URL)
					return nil
				}

				dead, err := c.Outbox.ListDeadLetters(ctx)
				if err != nil {
					return err
				}
				// oldest first so the outbox keeps the original order
				for i := len(dead) - 1; i >= 0; i-- {
					if _, err := c.Outbox.ReplayDeadLetter(ctx, i, now); err != nil {
						return fmt.Errorf("replay [%d]: %w", i, err)
					}
				}
				fmt.Fprintf(out, "Replayed %d dead letters\n", len(dead))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "replay every dead letter")
	return cmd
}
