package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/ttavares/comexsync/internal/domain"
)

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository wires a history repository backed by pgxpool.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) Append(ctx context.Context, rec domain.HistoryRecord) error {
	if r.pool == nil {
		return fmt.Errorf("history repository not initialized")
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO document_history
		 (id, snapshot_id, number, kind, version, event_at, event_kind, field_name,
		  previous_value, new_value, description, raw_payload, source, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID,
		rec.SnapshotID,
		rec.Number,
		string(rec.Kind),
		nullText(rec.Version),
		rec.EventAt,
		rec.EventKind,
		rec.Field,
		rec.Previous,
		rec.New,
		rec.Description,
		rawOrNil(rec.RawPayload),
		nullText(rec.Source),
		nullText(rec.Actor),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history for %s/%s: %w", rec.Kind, rec.Number, err)
	}
	return nil
}

func (r *historyRepository) ListByIdentity(ctx context.Context, id domain.Identity) ([]domain.HistoryRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("history repository not initialized")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, snapshot_id, number, kind, version, event_at, event_kind, field_name,
		        previous_value, new_value, description, raw_payload, source, actor, created_at
		 FROM document_history
		 WHERE number = $1 AND kind = $2 AND ($3 = '' OR version = $3)
		 ORDER BY event_at ASC, created_at ASC`,
		id.Number, string(id.Kind), id.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history for %s: %w", id, err)
	}
	defer rows.Close()

	records := []domain.HistoryRecord{}
	for rows.Next() {
		var (
			rec        domain.HistoryRecord
			snapshotID pgtype.UUID
			version    pgtype.Text
			source     pgtype.Text
			actor      pgtype.Text
			rawPayload []byte
		)
		if scanErr := rows.Scan(
			&rec.ID,
			&snapshotID,
			&rec.Number,
			&rec.Kind,
			&version,
			&rec.EventAt,
			&rec.EventKind,
			&rec.Field,
			&rec.Previous,
			&rec.New,
			&rec.Description,
			&rawPayload,
			&source,
			&actor,
			&rec.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", scanErr)
		}

		if snapshotID.Valid {
			sid := uuid.UUID(snapshotID.Bytes)
			rec.SnapshotID = &sid
		}
		rec.Version = version.String
		rec.Source = source.String
		rec.Actor = actor.String
		rec.RawPayload = rawPayload
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate history records: %w", rowsErr)
	}
	return records, nil
}
