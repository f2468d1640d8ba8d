package repository

import (
	"context"
	"errors"

	"github.com/ttavares/comexsync/internal/domain"
)

// ErrDuplicateSnapshot is returned by SnapshotRepository.Insert when the
// storage-level uniqueness constraint on (number, kind, version) rejects a
// concurrent first-time write. Callers degrade to re-fetch and update.
var ErrDuplicateSnapshot = errors.New("snapshot already exists for identity")

// SnapshotRepository persists the single current-state row per document identity.
type SnapshotRepository interface {
	// FindByIdentity resolves the stored snapshot for an identity. An absent
	// incoming version matches a stored null version; a present incoming
	// version prefers the exact row but also matches a stored null version so
	// the version can be appended once. Returns (nil, nil) when no row exists.
	FindByIdentity(ctx context.Context, id domain.Identity) (*domain.Snapshot, error)
	Insert(ctx context.Context, snap *domain.Snapshot) error
	Update(ctx context.Context, snap *domain.Snapshot) error
	// ListByProcess returns every snapshot linked to a process reference.
	ListByProcess(ctx context.Context, processRef string) ([]domain.Snapshot, error)
	// ExistingNumbers reports which of the given document numbers already have
	// a snapshot of the given kind. Used by backfill existence pre-checks in
	// bounded batches.
	ExistingNumbers(ctx context.Context, kind domain.DocumentKind, numbers []string) (map[string]struct{}, error)
	// WidenLegacyColumns widens the two historically undersized text columns.
	// Safe to call repeatedly; it is a narrowly scoped self-heal, not schema
	// management.
	WidenLegacyColumns(ctx context.Context) error
}

// HistoryRepository persists the append-only audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, rec domain.HistoryRecord) error
	ListByIdentity(ctx context.Context, id domain.Identity) ([]domain.HistoryRecord, error)
}

// ImportCostRepository stores derived financial aggregates for import
// declarations via an idempotent keyed insert.
type ImportCostRepository interface {
	// Insert writes the aggregate row. A natural-key conflict is benign and
	// reported as (false, nil): the row was already there.
	Insert(ctx context.Context, costs domain.ImportCosts) (bool, error)
}
