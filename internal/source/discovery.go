package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttavares/comexsync/internal/domain"
)

// DiscoveredDocument is one document number found for a process, together
// with whatever minimal canonical fields the source could supply directly.
type DiscoveredDocument struct {
	Number  string
	Version string
	Fields  domain.FieldSet
	Raw     json.RawMessage
}

// Discoverer finds the document numbers associated with one shipment for a
// given kind. Implementations form an ordered fallback chain; the first
// non-empty answer per kind wins and sources are never cross-validated.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, processRef string, kind domain.DocumentKind) ([]DiscoveredDocument, error)
}

// DocumentResolver resolves one document number into its minimal canonical
// columns. Used to enrich sources that carry numbers only.
type DocumentResolver interface {
	Resolve(ctx context.Context, kind domain.DocumentKind, number string) ([]DiscoveredDocument, error)
}

// ProjectionResolver reads a number's columns from the authoritative
// projection of its kind.
type ProjectionResolver struct {
	pool *pgxpool.Pool
}

// NewProjectionResolver wires the pgx-backed resolver.
func NewProjectionResolver(pool *pgxpool.Pool) *ProjectionResolver {
	return &ProjectionResolver{pool: pool}
}

func (r *ProjectionResolver) Resolve(ctx context.Context, kind domain.DocumentKind, number string) ([]DiscoveredDocument, error) {
	return discoverFromProjection(ctx, r.pool, kind, "number", number)
}

// CacheDiscoverer is the local fast path. The cache carries numbers only, so
// each hit is enriched with the authoritative projection's columns before it
// reaches the pipeline.
type CacheDiscoverer struct {
	store    *CacheStore
	resolver DocumentResolver
}

// NewCacheDiscoverer wraps the sqlite cache as the first chain element.
func NewCacheDiscoverer(store *CacheStore, resolver DocumentResolver) *CacheDiscoverer {
	return &CacheDiscoverer{store: store, resolver: resolver}
}

func (d *CacheDiscoverer) Name() string { return "local-cache" }

func (d *CacheDiscoverer) Discover(ctx context.Context, processRef string, kind domain.DocumentKind) ([]DiscoveredDocument, error) {
	if d.store == nil || d.resolver == nil {
		return nil, fmt.Errorf("local cache discoverer not initialized")
	}
	numbers, err := d.store.DocumentNumbers(ctx, processRef, kind)
	if err != nil {
		return nil, err
	}
	docs := make([]DiscoveredDocument, 0, len(numbers))
	for _, number := range numbers {
		resolved, resolveErr := d.resolver.Resolve(ctx, kind, number)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if len(resolved) == 0 {
			// Cached number with no authoritative row left: keep the bare
			// number so the sighting itself still converges.
			docs = append(docs, DiscoveredDocument{Number: number})
			continue
		}
		docs = append(docs, resolved...)
	}
	return docs, nil
}

// ProcessIndexDiscoverer reads the authoritative projection through its
// process-identifier index.
type ProcessIndexDiscoverer struct {
	pool *pgxpool.Pool
}

// NewProcessIndexDiscoverer constructs the second chain element.
func NewProcessIndexDiscoverer(pool *pgxpool.Pool) *ProcessIndexDiscoverer {
	return &ProcessIndexDiscoverer{pool: pool}
}

func (d *ProcessIndexDiscoverer) Name() string { return "process-index" }

func (d *ProcessIndexDiscoverer) Discover(ctx context.Context, processRef string, kind domain.DocumentKind) ([]DiscoveredDocument, error) {
	return discoverFromProjection(ctx, d.pool, kind, "process_ref", processRef)
}

// ShipmentKeyDiscoverer reads a different authoritative source keyed directly
// by the shipment number.
type ShipmentKeyDiscoverer struct {
	pool *pgxpool.Pool
}

// NewShipmentKeyDiscoverer constructs the last chain element.
func NewShipmentKeyDiscoverer(pool *pgxpool.Pool) *ShipmentKeyDiscoverer {
	return &ShipmentKeyDiscoverer{pool: pool}
}

func (d *ShipmentKeyDiscoverer) Name() string { return "shipment-key" }

func (d *ShipmentKeyDiscoverer) Discover(ctx context.Context, processRef string, kind domain.DocumentKind) ([]DiscoveredDocument, error) {
	return discoverFromProjection(ctx, d.pool, kind, "shipment_number", processRef)
}

// discoverFromProjection builds each discovered document's minimal canonical
// payload directly from known authoritative columns; the generic origin
// mappers are bypassed because column identity is not in question here.
func discoverFromProjection(ctx context.Context, pool *pgxpool.Pool, kind domain.DocumentKind, keyColumn, keyValue string) ([]DiscoveredDocument, error) {
	if pool == nil {
		return nil, fmt.Errorf("discoverer not initialized")
	}
	table, ok := bulkTables[kind]
	if !ok {
		return nil, fmt.Errorf("no authoritative projection for kind %s", kind)
	}

	query := `SELECT number, status_text, channel, situation,
	          registration_date, situation_date, clearance_date, retification_number
	          FROM ` + table + `
	          WHERE ` + keyColumn + ` = $1
	          ORDER BY number`

	rows, err := pool.Query(ctx, query, keyValue)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s by %s: %w", kind, keyColumn, err)
	}
	defer rows.Close()

	var docs []DiscoveredDocument
	for rows.Next() {
		var (
			number           string
			statusText       pgtype.Text
			channel          pgtype.Text
			situation        pgtype.Text
			registrationDate pgtype.Timestamptz
			situationDate    pgtype.Timestamptz
			clearanceDate    pgtype.Timestamptz
			retification     pgtype.Text
		)
		if scanErr := rows.Scan(
			&number, &statusText, &channel, &situation,
			&registrationDate, &situationDate, &clearanceDate, &retification,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan discovered %s row: %w", kind, scanErr)
		}

		doc := DiscoveredDocument{
			Number: number,
			Fields: domain.FieldSet{
				Status:           statusText.String,
				Channel:          channel.String,
				Situation:        situation.String,
				RegistrationDate: timePtr(registrationDate),
				SituationDate:    timePtr(situationDate),
				ClearanceDate:    timePtr(clearanceDate),
			}.Normalize(),
		}
		if kind == domain.KindImportDeclaration && retification.Valid {
			doc.Version = retification.String
		}

		raw := domain.Payload{keyColumn: keyValue}
		putText(raw, "status_text", statusText)
		putText(raw, "channel", channel)
		putText(raw, "situation", situation)
		putTime(raw, "registration_date", registrationDate)
		putTime(raw, "situation_date", situationDate)
		putTime(raw, "clearance_date", clearanceDate)
		raw["number"] = number
		if encoded, encodeErr := json.Marshal(raw); encodeErr == nil {
			doc.Raw = encoded
		}

		docs = append(docs, doc)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate discovered %s rows: %w", kind, rowsErr)
	}
	return docs, nil
}

func timePtr(value pgtype.Timestamptz) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := value.Time
	return &ts
}
