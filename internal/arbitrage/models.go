// Package arbitrage discovers cross-venue market pairs and prices two-leg
// arbitrage opportunities across them.
package arbitrage

import (
	"time"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

const (
	// kalshiTakerFee approximates the Kalshi taker fee per contract.
	kalshiTakerFee = 0.02

	// emptyBookPrice is the sentinel cost when a side has no liquidity. Any
	// strategy touching it prices far below zero profit.
	emptyBookPrice = 999.0
)

// MarketType distinguishes the market flavors within one sports event.
type MarketType string

const (
	MarketTypeMoneyline MarketType = "MONEYLINE"
	MarketTypeSpread    MarketType = "SPREAD"
	MarketTypeTotal     MarketType = "TOTAL"
)

// MarketPair links a Kalshi market to its Polymarket counterpart. Pairs are
// immutable once built and live only for the scan that produced them.
type MarketPair struct {
	ID          string
	League      string
	MarketType  MarketType
	Description string

	KalshiTicker string

	PolySlug    string
	PolyTokenID string
	PolyMarket  domain.Market
}

// Opportunity is a priced two-leg arbitrage check for one pair. Costs are the
// total outlay to buy a guaranteed $1.00 payout via each strategy, fees
// included; profit is 1 minus cost.
type Opportunity struct {
	PairID    string    `json:"pair_id"`
	Timestamp time.Time `json:"timestamp"`

	CostPolyYesKalshiNo float64 `json:"cost_poly_yes_kalshi_no"`
	CostKalshiYesPolyNo float64 `json:"cost_kalshi_yes_poly_no"`

	ProfitPolyYesKalshiNo float64 `json:"profit_poly_yes_kalshi_no"`
	ProfitKalshiYesPolyNo float64 `json:"profit_kalshi_yes_poly_no"`

	PolyYesPrice   float64 `json:"poly_yes_price"`
	KalshiNoPrice  float64 `json:"kalshi_no_price"`
	KalshiYesPrice float64 `json:"kalshi_yes_price"`
	PolyNoPrice    float64 `json:"poly_no_price"`
}

// BestStrategy names the leg combination with the higher profit.
func (o *Opportunity) BestStrategy() string {
	if o.ProfitPolyYesKalshiNo > o.ProfitKalshiYesPolyNo {
		return "Buy Poly YES / Kalshi NO"
	}
	return "Buy Kalshi YES / Poly NO"
}

// MaxProfit returns the better of the two strategy profits.
func (o *Opportunity) MaxProfit() float64 {
	return max(o.ProfitPolyYesKalshiNo, o.ProfitKalshiYesPolyNo)
}

// IsProfitable reports whether either strategy clears zero after fees.
func (o *Opportunity) IsProfitable() bool {
	return o.MaxProfit() > 0
}
