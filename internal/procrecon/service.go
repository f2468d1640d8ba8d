// Package procrecon reconciles every document of one shipment process by
// discovering document numbers across a fallback chain of sources and routing
// them through the convergence pipeline.
package procrecon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/reconcile"
	"github.com/ttavares/comexsync/internal/repository"
	"github.com/ttavares/comexsync/internal/source"
)

// SourceTag distinguishes batch-reconciliation writes from live-API writes in
// the audit trail.
const SourceTag = "batch-reconciliation"

const actorTag = "process-reconciler"

// FieldObserver is the slice of the reconciliation engine this orchestrator
// needs: payloads here are already canonical.
type FieldObserver interface {
	ObserveFields(ctx context.Context, identity domain.Identity, fields domain.FieldSet, raw json.RawMessage, processRef, source, actor string) (reconcile.Result, error)
}

// Summary is the outcome of reconciling one process.
type Summary struct {
	ProcessRef   string
	Discovered   int
	Created      int
	Updated      int
	CostsWritten int
	Errors       int
}

// Service is the per-process reconciliation orchestrator.
type Service struct {
	discoverers []source.Discoverer
	engine      FieldObserver
	costs       repository.ImportCostRepository
	costSource  source.CostSource
	snapshots   repository.SnapshotRepository
	logger      *slog.Logger
	now         func() time.Time

	healOnce sync.Once
	healErr  error
}

// NewService constructs the orchestrator. Discoverers are consulted in slice
// order; pass them fast path first.
func NewService(
	discoverers []source.Discoverer,
	engine FieldObserver,
	costs repository.ImportCostRepository,
	costSource source.CostSource,
	snapshots repository.SnapshotRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		discoverers: discoverers,
		engine:      engine,
		costs:       costs,
		costSource:  costSource,
		snapshots:   snapshots,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile discovers and converges every document of one shipment. The
// returned error is non-nil only when the whole call cannot proceed; per-item
// failures are counted and logged.
func (s *Service) Reconcile(ctx context.Context, processRef string) (Summary, error) {
	summary := Summary{ProcessRef: processRef}
	if processRef == "" {
		return summary, errors.New("process reference is required")
	}

	if err := s.selfHeal(ctx); err != nil {
		return summary, err
	}

	for _, kind := range domain.Kinds() {
		docs := s.discover(ctx, processRef, kind)
		summary.Discovered += len(docs)

		for _, doc := range docs {
			identity := domain.Identity{Number: doc.Number, Kind: kind, Version: doc.Version}
			result, err := s.engine.ObserveFields(ctx, identity, doc.Fields, doc.Raw, processRef, SourceTag, actorTag)
			if err != nil {
				summary.Errors++
				s.logger.Error("failed to reconcile document",
					"process", processRef, "identity", identity.String(), "error", err)
				continue
			}
			if result.Created {
				summary.Created++
			} else if result.Updated {
				summary.Updated++
			}

			if kind == domain.KindImportDeclaration {
				if s.writeCosts(ctx, processRef, doc.Number, &summary) {
					summary.CostsWritten++
				}
			}
		}
	}
	return summary, nil
}

// discover walks the fallback chain and returns the first non-empty answer.
// Sources are never cross-validated; a failing source falls through to the
// next one.
func (s *Service) discover(ctx context.Context, processRef string, kind domain.DocumentKind) []source.DiscoveredDocument {
	for _, discoverer := range s.discoverers {
		docs, err := discoverer.Discover(ctx, processRef, kind)
		if err != nil {
			s.logger.Warn("discovery source failed, falling through",
				"source", discoverer.Name(), "process", processRef, "kind", kind, "error", err)
			continue
		}
		if len(docs) > 0 {
			return docs
		}
	}
	return nil
}

func (s *Service) writeCosts(ctx context.Context, processRef, number string, summary *Summary) bool {
	if s.costs == nil || s.costSource == nil {
		return false
	}

	costs, err := s.costSource.CostsFor(ctx, number)
	if err != nil {
		summary.Errors++
		s.logger.Error("failed to read declaration costs",
			"process", processRef, "number", number, "error", err)
		return false
	}
	if costs == nil {
		return false
	}

	costs.ProcessRef = processRef
	costs.CreatedAt = s.now()
	inserted, err := s.costs.Insert(ctx, *costs)
	if err != nil {
		summary.Errors++
		s.logger.Error("failed to write declaration costs",
			"process", processRef, "number", number, "error", err)
		return false
	}
	if !inserted {
		// Natural-key conflict: the aggregates were already written by an
		// earlier run. Success.
		s.logger.Debug("declaration costs already present", "number", number)
	}
	return inserted
}

// selfHeal widens the two historically undersized text columns once per
// service instance, before any write.
func (s *Service) selfHeal(ctx context.Context) error {
	s.healOnce.Do(func() {
		if s.snapshots == nil {
			return
		}
		s.healErr = s.snapshots.WidenLegacyColumns(ctx)
	})
	return s.healErr
}
