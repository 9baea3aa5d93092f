package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
)

// OpportunityStore persists priced arbitrage opportunities for later
// analysis.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// SaveOpportunity appends one observation.
func (s *OpportunityStore) SaveOpportunity(ctx context.Context, opp arbitrage.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			pair_id, observed_at,
			cost_poly_yes_kalshi_no, cost_kalshi_yes_poly_no,
			profit_poly_yes_kalshi_no, profit_kalshi_yes_poly_no,
			poly_yes_price, poly_no_price, kalshi_yes_price, kalshi_no_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		opp.PairID, opp.Timestamp,
		opp.CostPolyYesKalshiNo, opp.CostKalshiYesPolyNo,
		opp.ProfitPolyYesKalshiNo, opp.ProfitKalshiYesPolyNo,
		opp.PolyYesPrice, opp.PolyNoPrice, opp.KalshiYesPrice, opp.KalshiNoPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: save opportunity %s: %w", opp.PairID, err)
	}
	return nil
}

// ListRecent returns the latest observations for a pair, newest first. An
// empty pairID returns observations across all pairs.
func (s *OpportunityStore) ListRecent(ctx context.Context, pairID string, limit int) ([]arbitrage.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT pair_id, observed_at,
		       cost_poly_yes_kalshi_no, cost_kalshi_yes_poly_no,
		       profit_poly_yes_kalshi_no, profit_kalshi_yes_poly_no,
		       poly_yes_price, poly_no_price, kalshi_yes_price, kalshi_no_price
		FROM opportunities`
	args := []any{}
	if pairID != "" {
		query += ` WHERE pair_id = $1 ORDER BY observed_at DESC LIMIT $2`
		args = append(args, pairID, limit)
	} else {
		query += ` ORDER BY observed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []arbitrage.Opportunity
	for rows.Next() {
		var o arbitrage.Opportunity
		if err := rows.Scan(
			&o.PairID, &o.Timestamp,
			&o.CostPolyYesKalshiNo, &o.CostKalshiYesPolyNo,
			&o.ProfitPolyYesKalshiNo, &o.ProfitKalshiYesPolyNo,
			&o.PolyYesPrice, &o.PolyNoPrice, &o.KalshiYesPrice, &o.KalshiNoPrice,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return opps, nil
}
