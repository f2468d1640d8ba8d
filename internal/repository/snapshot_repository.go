package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttavares/comexsync/internal/domain"
)

const snapshotColumns = `id, number, kind, version, status, status_code, channel, situation,
	registration_date, situation_date, clearance_date, process_ref, raw_payload, source,
	synced_at, created_at, updated_at`

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository wires a snapshot repository backed by pgxpool.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

func (r *snapshotRepository) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.Snapshot, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}

	var row pgx.Row
	if id.Version == "" {
		row = r.pool.QueryRow(ctx,
			`SELECT `+snapshotColumns+`
			 FROM document_snapshots
			 WHERE number = $1 AND kind = $2 AND version IS NULL`,
			id.Number, string(id.Kind),
		)
	} else {
		// Prefer the exact version row, but accept a stored null version so a
		// newly known version can be appended to it exactly once.
		row = r.pool.QueryRow(ctx,
			`SELECT `+snapshotColumns+`
			 FROM document_snapshots
			 WHERE number = $1 AND kind = $2 AND (version = $3 OR version IS NULL)
			 ORDER BY (version IS NOT NULL) DESC
			 LIMIT 1`,
			id.Number, string(id.Kind), id.Version,
		)
	}

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find snapshot for %s: %w", id, err)
	}
	return snap, nil
}

func (r *snapshotRepository) Insert(ctx context.Context, snap *domain.Snapshot) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO document_snapshots
		 (id, number, kind, version, status, status_code, channel, situation,
		  registration_date, situation_date, clearance_date, process_ref, raw_payload, source,
		  synced_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		snap.ID,
		snap.Number,
		string(snap.Kind),
		nullText(snap.Version),
		nullText(snap.Status),
		nullText(snap.StatusCode),
		nullText(snap.Channel),
		nullText(snap.Situation),
		snap.RegistrationDate,
		snap.SituationDate,
		snap.ClearanceDate,
		nullText(snap.ProcessRef),
		rawOrNil(snap.RawPayload),
		nullText(snap.Source),
		snap.SyncedAt,
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateSnapshot, snap.Identity())
		}
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.Identity(), err)
	}
	return nil
}

func (r *snapshotRepository) Update(ctx context.Context, snap *domain.Snapshot) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE document_snapshots
		 SET version = $2, status = $3, status_code = $4, channel = $5, situation = $6,
		     registration_date = $7, situation_date = $8, clearance_date = $9,
		     process_ref = $10, raw_payload = $11, source = $12, synced_at = $13, updated_at = $14
		 WHERE id = $1`,
		snap.ID,
		nullText(snap.Version),
		nullText(snap.Status),
		nullText(snap.StatusCode),
		nullText(snap.Channel),
		nullText(snap.Situation),
		snap.RegistrationDate,
		snap.SituationDate,
		snap.ClearanceDate,
		nullText(snap.ProcessRef),
		rawOrNil(snap.RawPayload),
		nullText(snap.Source),
		snap.SyncedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot for %s: %w", snap.Identity(), err)
	}
	return nil
}

func (r *snapshotRepository) ListByProcess(ctx context.Context, processRef string) ([]domain.Snapshot, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM document_snapshots
		 WHERE process_ref = $1
		 ORDER BY kind, number`,
		processRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for process %s: %w", processRef, err)
	}
	defer rows.Close()

	snapshots := []domain.Snapshot{}
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan process snapshot: %w", scanErr)
		}
		snapshots = append(snapshots, *snap)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate process snapshots: %w", rowsErr)
	}
	return snapshots, nil
}

func (r *snapshotRepository) ExistingNumbers(ctx context.Context, kind domain.DocumentKind, numbers []string) (map[string]struct{}, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}
	existing := make(map[string]struct{}, len(numbers))
	if len(numbers) == 0 {
		return existing, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT number FROM document_snapshots WHERE kind = $1 AND number = ANY($2)`,
		string(kind), numbers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number string
		if scanErr := rows.Scan(&number); scanErr != nil {
			return nil, fmt.Errorf("failed to scan existing number: %w", scanErr)
		}
		existing[number] = struct{}{}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate existing numbers: %w", rowsErr)
	}
	return existing, nil
}

func (r *snapshotRepository) WidenLegacyColumns(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}

	// Two columns were created undersized in early deployments and real
	// situation texts overflow them. Widening is idempotent.
	statements := []string{
		`ALTER TABLE document_snapshots ALTER COLUMN situation TYPE varchar(500)`,
		`ALTER TABLE document_history ALTER COLUMN previous_value TYPE varchar(500)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to widen legacy column: %w", err)
		}
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snap             domain.Snapshot
		version          pgtype.Text
		status           pgtype.Text
		statusCode       pgtype.Text
		channel          pgtype.Text
		situation        pgtype.Text
		registrationDate pgtype.Timestamptz
		situationDate    pgtype.Timestamptz
		clearanceDate    pgtype.Timestamptz
		processRef       pgtype.Text
		rawPayload       []byte
		source           pgtype.Text
	)
	if err := row.Scan(
		&snap.ID,
		&snap.Number,
		&snap.Kind,
		&version,
		&status,
		&statusCode,
		&channel,
		&situation,
		&registrationDate,
		&situationDate,
		&clearanceDate,
		&processRef,
		&rawPayload,
		&source,
		&snap.SyncedAt,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	); err != nil {
		return nil, err
	}

	snap.Version = version.String
	snap.Status = status.String
	snap.StatusCode = statusCode.String
	snap.Channel = channel.String
	snap.Situation = situation.String
	snap.ProcessRef = processRef.String
	snap.Source = source.String
	snap.RawPayload = rawPayload
	if registrationDate.Valid {
		ts := registrationDate.Time
		snap.RegistrationDate = &ts
	}
	if situationDate.Valid {
		ts := situationDate.Time
		snap.SituationDate = &ts
	}
	if clearanceDate.Valid {
		ts := clearanceDate.Time
		snap.ClearanceDate = &ts
	}
	return &snap, nil
}

func nullText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
