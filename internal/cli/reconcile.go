package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ttavares/comexsync/internal/config"
	"github.com/ttavares/comexsync/internal/db"
	"github.com/ttavares/comexsync/internal/procrecon"
	"github.com/ttavares/comexsync/internal/reconcile"
	"github.com/ttavares/comexsync/internal/repository"
	"github.com/ttavares/comexsync/internal/source"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	ShowHistory bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <process-ref> [<process-ref>...]",
		Short: "Discover and converge every document of the given shipments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowHistory, "show-history", false, "print the audit trail of each reconciled document")

	return cmd
}

func runReconcile(cmd *cobra.Command, opts *ReconcileOptions, processRefs []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

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
	costs := repository.NewImportCostRepository(conn.Pool)
	engine := reconcile.NewEngine(snapshots, history, logger)

	var discoverers []source.Discoverer
	if cache, cacheErr := source.OpenCache(cfg.CachePath); cacheErr != nil {
		// The cache is only the fast path; discovery falls through to the
		// authoritative chain without it.
		logger.Warn("local cache unavailable", "path", cfg.CachePath, "error", cacheErr)
	} else {
		defer func() { _ = cache.Close() }()
		discoverers = append(discoverers,
			source.NewCacheDiscoverer(cache, source.NewProjectionResolver(conn.Pool)))
	}
	discoverers = append(discoverers,
		source.NewProcessIndexDiscoverer(conn.Pool),
		source.NewShipmentKeyDiscoverer(conn.Pool),
	)

	service := procrecon.NewService(
		discoverers,
		engine,
		costs,
		source.NewDeclarationCosts(conn.Pool),
		snapshots,
		logger,
	)

	totalErrors := 0
	for _, processRef := range processRefs {
		summary, reconcileErr := service.Reconcile(ctx, processRef)
		if reconcileErr != nil {
			logger.Error("reconciliation failed", "process", processRef, "error", reconcileErr)
			totalErrors++
			continue
		}
		cmd.Printf("process %s: discovered=%d created=%d updated=%d costs=%d errors=%d\n",
			processRef, summary.Discovered, summary.Created, summary.Updated,
			summary.CostsWritten, summary.Errors)
		totalErrors += summary.Errors

		if opts.ShowHistory {
			if historyErr := printProcessHistory(cmd, snapshots, history, processRef); historyErr != nil {
				logger.Error("failed to print history", "process", processRef, "error", historyErr)
			}
		}
	}

	if totalErrors > 0 {
		return fmt.Errorf("reconciliation finished with %d errors", totalErrors)
	}
	return nil
}

func printProcessHistory(cmd *cobra.Command, snapshots repository.SnapshotRepository, history repository.HistoryRepository, processRef string) error {
	ctx := cmd.Context()
	linked, err := snapshots.ListByProcess(ctx, processRef)
	if err != nil {
		return err
	}
	for _, snap := range linked {
		identity := snap.Identity()
		records, listErr := history.ListByIdentity(ctx, identity)
		if listErr != nil {
			return listErr
		}
		cmd.Printf("  %s (%d events)\n", identity, len(records))
		for _, rec := range records {
			cmd.Printf("    %s %s\n", rec.EventAt.Format("2006-01-02 15:04:05"), rec.Description)
		}
	}
	return nil
}
