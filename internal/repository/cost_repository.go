package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttavares/comexsync/internal/domain"
)

type importCostRepository struct {
	pool *pgxpool.Pool
}

// NewImportCostRepository wires an import-cost repository backed by pgxpool.
func NewImportCostRepository(pool *pgxpool.Pool) ImportCostRepository {
	return &importCostRepository{pool: pool}
}

func (r *importCostRepository) Insert(ctx context.Context, costs domain.ImportCosts) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("import cost repository not initialized")
	}

	// The declaration number is the natural key; re-running reconciliation for
	// a process must not duplicate or fail on aggregates already written.
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO import_costs
		 (number, process_ref, merchandise_value, freight, duties_paid, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (number) DO NOTHING`,
		costs.Number,
		nullText(costs.ProcessRef),
		costs.MerchandiseValue,
		costs.Freight,
		costs.DutiesPaid,
		nullText(costs.Currency),
		costs.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert import costs for %s: %w", costs.Number, err)
	}
	return tag.RowsAffected() > 0, nil
}
