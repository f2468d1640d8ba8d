// Package source holds the read-only adapters over the disconnected upstream
// stores: authoritative networked projections, ad hoc spreadsheet exports and
// the local embedded cache.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttavares/comexsync/internal/backfill"
	"github.com/ttavares/comexsync/internal/domain"
)

// bulkTables maps each document kind to its authoritative projection. The
// schemas are owned externally; only these narrow column sets are read.
var bulkTables = map[domain.DocumentKind]string{
	domain.KindCargoManifest:            "mercante_manifests",
	domain.KindImportDeclaration:        "declaration_registry",
	domain.KindUnifiedImportDeclaration: "duimp_registry",
	domain.KindTerminalControl:          "terminal_control_docs",
}

// AuthoritativeBulk enumerates historical documents straight from the
// authoritative store's replicated projections.
type AuthoritativeBulk struct {
	pool *pgxpool.Pool
}

// NewAuthoritativeBulk constructs the bulk source.
func NewAuthoritativeBulk(pool *pgxpool.Pool) *AuthoritativeBulk {
	return &AuthoritativeBulk{pool: pool}
}

func (a *AuthoritativeBulk) Name() string { return "authoritative" }

// Fetch returns every row of the kind's projection updated inside the window.
// Rows come back in replica key spellings; deduplication is the caller's job.
func (a *AuthoritativeBulk) Fetch(ctx context.Context, window backfill.Window, kind domain.DocumentKind) ([]backfill.BulkRow, error) {
	if a.pool == nil {
		return nil, fmt.Errorf("authoritative source not initialized")
	}
	table, ok := bulkTables[kind]
	if !ok {
		return nil, fmt.Errorf("no authoritative projection for kind %s", kind)
	}

	query := `SELECT number, status_text, status_code, channel, situation,
	          registration_date, situation_date, clearance_date, retification_number, updated_at
	          FROM ` + table + `
	          WHERE ($1::timestamptz IS NULL OR updated_at >= $1)
	            AND ($2::timestamptz IS NULL OR updated_at <= $2)
	          ORDER BY updated_at ASC`

	rows, err := a.pool.Query(ctx, query, nullTime(window.From), nullTime(window.To))
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", table, err)
	}
	defer rows.Close()

	var out []backfill.BulkRow
	for rows.Next() {
		var (
			number           string
			statusText       pgtype.Text
			statusCode       pgtype.Text
			channel          pgtype.Text
			situation        pgtype.Text
			registrationDate pgtype.Timestamptz
			situationDate    pgtype.Timestamptz
			clearanceDate    pgtype.Timestamptz
			retification     pgtype.Text
			updatedAt        pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&number, &statusText, &statusCode, &channel, &situation,
			&registrationDate, &situationDate, &clearanceDate, &retification, &updatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, scanErr)
		}

		payload := domain.Payload{}
		putText(payload, "status_text", statusText)
		putText(payload, "status_code", statusCode)
		putText(payload, "channel", channel)
		putText(payload, "situation", situation)
		putTime(payload, "registration_date", registrationDate)
		putTime(payload, "situation_date", situationDate)
		putTime(payload, "clearance_date", clearanceDate)
		putText(payload, "retification_number", retification)

		row := backfill.BulkRow{
			Number:  number,
			Kind:    kind,
			Origin:  domain.OriginReplica,
			Payload: payload,
		}
		if updatedAt.Valid {
			row.DatedAt = updatedAt.Time
		}
		out = append(out, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table, rowsErr)
	}
	return out, nil
}

func putText(payload domain.Payload, key string, value pgtype.Text) {
	if value.Valid && value.String != "" {
		payload[key] = value.String
	}
}

func putTime(payload domain.Payload, key string, value pgtype.Timestamptz) {
	if value.Valid {
		payload[key] = value.Time
	}
}

func nullTime(ts time.Time) any {
	if ts.IsZero() {
		return nil
	}
	return ts
}
