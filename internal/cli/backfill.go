package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ttavares/comexsync/internal/backfill"
	"github.com/ttavares/comexsync/internal/config"
	"github.com/ttavares/comexsync/internal/db"
	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/reconcile"
	"github.com/ttavares/comexsync/internal/report"
	"github.com/ttavares/comexsync/internal/repository"
	"github.com/ttavares/comexsync/internal/source"
)

const windowDateFormat = "2006-01-02"

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	From    string
	To      string
	Limit   int
	Kind    string
	DryRun  bool
	Exports []string
	Report  string
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Bulk-migrate historical documents into the canonical store",
		Long: `Enumerate candidate documents from the authoritative bulk sources for a
historical window, skip the ones already present, and converge the rest.

Example:
  comexsync backfill --from 2023-01-01 --to 2023-12-31 --kind IMPORT_DECLARATION
  comexsync backfill --from 2024-06-01 --dry-run --export legacy_dis.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end (YYYY-MM-DD, inclusive)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum documents migrated this run (0 = unbounded)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "restrict to one document kind")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "preview without writing")
	cmd.Flags().StringSliceVar(&opts.Exports, "export", nil, "ad hoc export file (.csv/.xlsx) to use as an extra bulk source; requires --kind")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write run report to this .xlsx path")

	return cmd
}

func runBackfill(cmd *cobra.Command, opts *BackfillOptions) error {
	ctx := cmd.Context()
	logger := slog.Default()

	window, err := parseWindow(opts.From, opts.To)
	if err != nil {
		return err
	}

	var kinds []domain.DocumentKind
	if opts.Kind != "" {
		kind, parseErr := domain.ParseKind(opts.Kind)
		if parseErr != nil {
			return parseErr
		}
		kinds = []domain.DocumentKind{kind}
	}
	if len(opts.Exports) > 0 && len(kinds) == 0 {
		return fmt.Errorf("--export requires --kind: export files are per kind")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, opts.Migrations); err != nil {
		return err
	}

	snapshots := repository.NewSnapshotRepository(conn.Pool)
	history := repository.NewHistoryRepository(conn.Pool)
	engine := reconcile.NewEngine(snapshots, history, logger)

	sources := []backfill.BulkSource{source.NewAuthoritativeBulk(conn.Pool)}
	for _, path := range opts.Exports {
		sources = append(sources, source.NewSpreadsheetExport(path, kinds[0], domain.OriginLegacyCache))
	}

	service := backfill.NewService(sources, engine, snapshots, cfg.Backfill, logger)

	summary := service.Run(ctx, backfill.Options{
		Window: window,
		Kinds:  kinds,
		Limit:  opts.Limit,
		DryRun: opts.DryRun,
	})

	printSummary(cmd, summary)

	if opts.Report != "" {
		if reportErr := report.WriteXLSX(opts.Report, summary); reportErr != nil {
			logger.Error("failed to write report", "path", opts.Report, "error", reportErr)
			summary.Errors++
		} else {
			cmd.Printf("report written to %s\n", opts.Report)
		}
	}

	if summary.Errors > 0 {
		return fmt.Errorf("backfill finished with %d errors", summary.Errors)
	}
	return nil
}

func parseWindow(from, to string) (backfill.Window, error) {
	var window backfill.Window
	if from != "" {
		ts, err := time.Parse(windowDateFormat, from)
		if err != nil {
			return window, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		window.From = ts
	}
	if to != "" {
		ts, err := time.Parse(windowDateFormat, to)
		if err != nil {
			return window, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		// Inclusive end of day.
		window.To = ts.Add(24*time.Hour - time.Nanosecond)
	}
	if !window.From.IsZero() && !window.To.IsZero() && window.To.Before(window.From) {
		return window, fmt.Errorf("--to precedes --from")
	}
	return window, nil
}

func printSummary(cmd *cobra.Command, summary backfill.Summary) {
	if summary.DryRun {
		cmd.Println("DRY RUN - no writes were performed")
	}
	cmd.Printf("scanned:  %d\n", summary.Scanned)
	cmd.Printf("migrated: %d\n", summary.Migrated)
	cmd.Printf("existing: %d\n", summary.Existing)
	cmd.Printf("skipped:  %d\n", summary.Skipped)
	cmd.Printf("unknown:  %d\n", summary.Unknown)
	cmd.Printf("errors:   %d\n", summary.Errors)
}
