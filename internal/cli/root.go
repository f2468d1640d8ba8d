// Package cli wires the batch drivers: historical backfill and per-process
// reconciliation.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string
	Migrations string
}

// NewRootCommand creates the comexsync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "comexsync",
		Short: "Customs document state and change-history reconciliation",
		Long: `comexsync converges customs-clearance documents from disconnected
sources into one canonical snapshot per document plus an append-only audit
trail of field-level changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", ".", "directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Migrations, "migrations", "./migrations", "path to migration files")

	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}
