// Package cli is the leadsync command line: the HTTP server plus the
// one-shot operator commands that share its wiring.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "leadsync",
		Short: "Lead identity, mission progress and CRM sync",
		Long: `leadsync keeps event leads in a canonical Postgres store and mirrors
them into a Notion CRM. It serves the attendee API, drains the sync outbox
and reconciles drift between the two stores.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format for reports (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}

func (o *RootOptions) level(configured slog.Level) slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	return configured
}
