// Package reconcile implements the document state and change-history
// convergence pipeline: one observation in, an append-only audit trail and an
// idempotently upserted current-state snapshot out.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/repository"
)

// Observation is one freshly observed raw payload for a document.
type Observation struct {
	Number     string
	Kind       domain.DocumentKind
	Origin     domain.Origin
	Payload    domain.Payload
	ProcessRef string
	Source     string
	Actor      string
}

// Result reports what one observation did to storage.
type Result struct {
	Identity domain.Identity
	Created  bool
	Updated  bool
	Changes  []domain.Change
	Snapshot *domain.Snapshot
}

// Engine drives a single document observation through field extraction,
// change detection, history append and snapshot upsert. It is strictly
// sequential; the two writes per observation are independent and
// non-transactional, and re-observation is the recovery mechanism for a crash
// between them.
type Engine struct {
	snapshots repository.SnapshotRepository
	appender  *Appender
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine constructs an engine around the two storage dependencies.
func NewEngine(snapshots repository.SnapshotRepository, history repository.HistoryRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		snapshots: snapshots,
		appender:  NewAppender(history, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the engine's time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Observe projects a raw payload into the canonical field set and converges
// storage onto it.
func (e *Engine) Observe(ctx context.Context, obs Observation) (Result, error) {
	if obs.Number == "" {
		return Result{}, errors.New("document number is required")
	}
	if _, err := domain.ParseKind(string(obs.Kind)); err != nil {
		return Result{}, err
	}

	fields, warnings := domain.ExtractFields(obs.Origin, obs.Kind, obs.Payload)
	for _, warning := range warnings {
		e.logger.Warn("payload field ignored",
			"number", obs.Number, "kind", obs.Kind, "detail", warning)
	}

	identity := domain.Identity{
		Number:  obs.Number,
		Kind:    obs.Kind,
		Version: domain.ResolveVersion(obs.Kind, obs.Payload),
	}

	raw, err := json.Marshal(obs.Payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode raw payload for %s: %w", identity, err)
	}

	return e.ObserveFields(ctx, identity, fields, raw, obs.ProcessRef, obs.Source, obs.Actor)
}

// ObserveFields converges storage onto an already canonical field set. Used
// directly by the process reconciliation orchestrator, whose payloads are
// built from known authoritative columns.
func (e *Engine) ObserveFields(
	ctx context.Context,
	identity domain.Identity,
	fields domain.FieldSet,
	raw json.RawMessage,
	processRef, source, actor string,
) (Result, error) {
	prev, err := e.snapshots.FindByIdentity(ctx, identity)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load prior snapshot for %s: %w", identity, err)
	}

	now := e.now()
	changes := domain.DetectChanges(prev, fields, now)

	// Inception is not a change: history rows are only written when a
	// snapshot already existed and a field genuinely differs.
	if prev != nil && len(changes) > 0 {
		e.appender.Append(ctx, AppendRequest{
			SnapshotID: &prev.ID,
			Identity:   identity,
			Changes:    changes,
			RawPayload: raw,
			Source:     source,
			Actor:      actor,
		})
	}

	result := Result{Identity: identity, Changes: changes}

	if prev == nil {
		snap := e.buildSnapshot(identity, fields, raw, processRef, source, now)
		if insertErr := e.snapshots.Insert(ctx, snap); insertErr != nil {
			if !errors.Is(insertErr, repository.ErrDuplicateSnapshot) {
				return Result{}, insertErr
			}
			// Lost a concurrent first-write race; the uniqueness constraint
			// kept the invariant, so converge onto the winner's row.
			e.logger.Warn("concurrent snapshot insert detected", "identity", identity.String())
			prev, err = e.snapshots.FindByIdentity(ctx, identity)
			if err != nil || prev == nil {
				return Result{}, fmt.Errorf("failed to reload snapshot after duplicate insert for %s: %w", identity, err)
			}
			// The detector ran before the winner's row was visible; rerun it
			// against that row so the transition still lands in the audit
			// trail and the write gate sees the real deltas.
			changes = domain.DetectChanges(prev, fields, now)
			result.Changes = changes
			if len(changes) > 0 {
				e.appender.Append(ctx, AppendRequest{
					SnapshotID: &prev.ID,
					Identity:   identity,
					Changes:    changes,
					RawPayload: raw,
					Source:     source,
					Actor:      actor,
				})
			}
		} else {
			result.Created = true
			result.Snapshot = snap
			return result, nil
		}
	}

	if !e.shouldWrite(prev, changes, processRef, raw) {
		// Re-observing unchanged upstream state is a write no-op.
		result.Snapshot = prev
		return result, nil
	}

	updated := e.applyFields(*prev, identity, fields, raw, processRef, source, now)
	if updateErr := e.snapshots.Update(ctx, &updated); updateErr != nil {
		return Result{}, updateErr
	}
	result.Updated = true
	result.Snapshot = &updated
	return result, nil
}

// shouldWrite is the write gate capping amplification under repeated polling
// of unchanged upstream state.
func (e *Engine) shouldWrite(prev *domain.Snapshot, changes []domain.Change, processRef string, raw json.RawMessage) bool {
	if prev == nil {
		return true
	}
	if len(changes) > 0 {
		return true
	}
	if processRef != "" && prev.ProcessRef == "" {
		return true
	}
	if len(prev.RawPayload) == 0 && len(raw) > 0 {
		return true
	}
	return false
}

func (e *Engine) buildSnapshot(
	identity domain.Identity,
	fields domain.FieldSet,
	raw json.RawMessage,
	processRef, source string,
	now time.Time,
) *domain.Snapshot {
	return &domain.Snapshot{
		ID:               uuid.New(),
		Number:           identity.Number,
		Kind:             identity.Kind,
		Version:          identity.Version,
		Status:           fields.Status,
		StatusCode:       fields.StatusCode,
		Channel:          fields.Channel,
		Situation:        fields.Situation,
		RegistrationDate: fields.RegistrationDate,
		SituationDate:    fields.SituationDate,
		ClearanceDate:    fields.ClearanceDate,
		ProcessRef:       processRef,
		RawPayload:       raw,
		Source:           source,
		SyncedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// applyFields merges an observation into a stored snapshot. Absent incoming
// fields never clear stored values; the process link is overwritten only when
// the new value is non-empty and differs; the version is append-once.
func (e *Engine) applyFields(
	prev domain.Snapshot,
	identity domain.Identity,
	fields domain.FieldSet,
	raw json.RawMessage,
	processRef, source string,
	now time.Time,
) domain.Snapshot {
	next := prev

	if fields.Status != "" {
		next.Status = fields.Status
	}
	if fields.StatusCode != "" {
		next.StatusCode = fields.StatusCode
	}
	if fields.Channel != "" {
		next.Channel = fields.Channel
	}
	if fields.Situation != "" {
		next.Situation = fields.Situation
	}
	if fields.RegistrationDate != nil {
		next.RegistrationDate = fields.RegistrationDate
	}
	if fields.SituationDate != nil {
		next.SituationDate = fields.SituationDate
	}
	if fields.ClearanceDate != nil {
		next.ClearanceDate = fields.ClearanceDate
	}
	if processRef != "" && processRef != prev.ProcessRef {
		next.ProcessRef = processRef
	}
	if prev.Version == "" && identity.Version != "" {
		next.Version = identity.Version
	}
	if len(raw) > 0 {
		next.RawPayload = raw
	}
	if source != "" {
		next.Source = source
	}
	next.SyncedAt = now
	next.UpdatedAt = now
	return next
}
