package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/repository"
)

// AppendRequest carries the detected changes of one observation into the
// audit trail.
type AppendRequest struct {
	SnapshotID *uuid.UUID
	Identity   domain.Identity
	Changes    []domain.Change
	RawPayload json.RawMessage
	Source     string
	Actor      string
}

// Appender persists one immutable history row per detected field change.
// Writes are one row at a time and non-transactional across the changes of a
// single observation: a failure on the Nth insert does not roll back the
// first N-1. On storage failure it logs and returns the rows that stuck;
// callers must not infer durability from a non-error return.
type Appender struct {
	history repository.HistoryRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewAppender constructs a history appender.
func NewAppender(history repository.HistoryRepository, logger *slog.Logger) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{history: history, logger: logger, now: time.Now}
}

// Append writes the changes in their detection order and returns the records
// that were durably stored.
func (a *Appender) Append(ctx context.Context, req AppendRequest) []domain.HistoryRecord {
	if a.history == nil {
		a.logger.Error("history storage unavailable, audit trail skipped",
			"identity", req.Identity.String(), "changes", len(req.Changes))
		return nil
	}

	appended := make([]domain.HistoryRecord, 0, len(req.Changes))
	for _, change := range req.Changes {
		rec := domain.HistoryRecord{
			ID:          uuid.New(),
			SnapshotID:  req.SnapshotID,
			Number:      req.Identity.Number,
			Kind:        req.Identity.Kind,
			Version:     req.Identity.Version,
			EventAt:     change.At,
			EventKind:   change.EventKind,
			Field:       change.Field,
			Previous:    change.Previous,
			New:         change.New,
			Description: change.Description(),
			RawPayload:  req.RawPayload,
			Source:      req.Source,
			Actor:       req.Actor,
			CreatedAt:   a.now(),
		}
		if err := a.history.Append(ctx, rec); err != nil {
			a.logger.Error("failed to append history record",
				"identity", req.Identity.String(), "field", change.Field, "error", err)
			continue
		}
		appended = append(appended, rec)
	}
	return appended
}
