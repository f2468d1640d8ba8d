package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttavares/comexsync/internal/domain"
)

// CostSource reads financial aggregates for an import declaration from the
// authoritative costs projection. Returns (nil, nil) when the declaration has
// no costs row.
type CostSource interface {
	CostsFor(ctx context.Context, number string) (*domain.ImportCosts, error)
}

type declarationCosts struct {
	pool *pgxpool.Pool
}

// NewDeclarationCosts wires the pgx-backed cost source.
func NewDeclarationCosts(pool *pgxpool.Pool) CostSource {
	return &declarationCosts{pool: pool}
}

func (c *declarationCosts) CostsFor(ctx context.Context, number string) (*domain.ImportCosts, error) {
	if c.pool == nil {
		return nil, fmt.Errorf("cost source not initialized")
	}

	var (
		costs    domain.ImportCosts
		currency pgtype.Text
	)
	err := c.pool.QueryRow(ctx,
		`SELECT number, merchandise_value, freight, duties_paid, currency
		 FROM declaration_costs
		 WHERE number = $1`,
		number,
	).Scan(&costs.Number, &costs.MerchandiseValue, &costs.Freight, &costs.DutiesPaid, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read costs for %s: %w", number, err)
	}
	costs.Currency = currency.String
	return &costs, nil
}
