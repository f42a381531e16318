package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
)

// OpenFunc yields the components a command operates on
type OpenFunc func(ctx context.Context) (*bootstrap.Components, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	open   OpenFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the swiftctl root command
func NewRootCommand(open OpenFunc) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "swiftctl",
		Short:         "Operator tooling for the SwiftClinic sync worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewJobCommand(opts))
	cmd.AddCommand(NewDLQCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))

	return cmd
}

// withComponents opens the components for one command invocation
func (o *RootOptions) withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Components) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("open components: %w", err)
	}
	defer c.Close()
	return fn(ctx, c)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
