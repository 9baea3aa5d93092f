// Package sentinel implements deterministic trigger evaluation over live
// market state. No side effects: the evaluator answers "should this
// condition fire now", and callers decide what to do about it.
package sentinel

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// TriggerType enumerates the conditions a watched market can fire on.
type TriggerType string

const (
	TriggerPriceBelow      TriggerType = "price_below"
	TriggerPriceAbove      TriggerType = "price_above"
	TriggerSpreadAbove     TriggerType = "spread_above"
	TriggerSpreadBelow     TriggerType = "spread_below"
	TriggerVolumeSpike     TriggerType = "volume_spike"
	TriggerImbalanceBuy    TriggerType = "imbalance_buy"
	TriggerImbalanceSell   TriggerType = "imbalance_sell"
	TriggerMarketReopen    TriggerType = "market_reopen"
	TriggerNewsCorrelation TriggerType = "news_correlation"
)

// TriggerCondition is a single immutable condition on a watched market.
type TriggerCondition struct {
	Type      TriggerType
	Threshold decimal.Decimal

	// SuggestedSide is "BUY" or "SELL", carried through to alerts.
	SuggestedSide string

	// Debounce is the minimum time between firings of this condition.
	Debounce time.Duration

	// TimeWindow scopes volume and correlation triggers.
	TimeWindow time.Duration

	// BaselineWindow is the spike-detection baseline period.
	BaselineWindow time.Duration

	// Hysteresis is the fraction of Threshold the value must retreat past
	// before the condition may re-arm.
	Hysteresis decimal.Decimal
}

// NewTriggerCondition builds a condition with the standard defaults: 60s
// debounce, 1h baseline window, 1% hysteresis.
func NewTriggerCondition(t TriggerType, threshold decimal.Decimal, side string) TriggerCondition {
	return TriggerCondition{
		Type:           t,
		Threshold:      threshold,
		SuggestedSide:  side,
		Debounce:       60 * time.Second,
		BaselineWindow: time.Hour,
		Hysteresis:     decimal.NewFromFloat(0.01),
	}
}

// Describe renders a human-readable description of the condition.
func (c TriggerCondition) Describe() string {
	switch c.Type {
	case TriggerPriceBelow:
		return fmt.Sprintf("Price dropped below $%s", c.Threshold)
	case TriggerPriceAbove:
		return fmt.Sprintf("Price rose above $%s", c.Threshold)
	case TriggerSpreadAbove:
		return fmt.Sprintf("Spread widened above $%s", c.Threshold)
	case TriggerSpreadBelow:
		return fmt.Sprintf("Spread narrowed below $%s", c.Threshold)
	case TriggerVolumeSpike:
		return fmt.Sprintf("Volume spike detected (>%sx baseline)", c.Threshold)
	case TriggerImbalanceBuy:
		return fmt.Sprintf("Strong buy pressure (imbalance >%s)", c.Threshold)
	case TriggerImbalanceSell:
		return fmt.Sprintf("Strong sell pressure (imbalance <-%s)", c.Threshold)
	case TriggerMarketReopen:
		return "Market reopened"
	case TriggerNewsCorrelation:
		return fmt.Sprintf("News correlation: price moved >%s%%", c.Threshold)
	default:
		return fmt.Sprintf("Condition %s met", c.Type)
	}
}

// MarketState is the mutable per-market view the evaluator reads. Built from
// stream snapshots; PrevStatus enables reopen detection.
type MarketState struct {
	MarketID    string
	Venue       domain.Venue
	Question    string
	Status      string // "active", "halted", "closed"
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	Spread      decimal.Decimal
	BidDepthUSD decimal.Decimal
	AskDepthUSD decimal.Decimal
	Imbalance   float64
	Timestamp   time.Time

	PrevStatus string
}

// WatchedMarket binds a market to its trigger conditions.
type WatchedMarket struct {
	MarketID string
	Venue    domain.Venue
	Triggers []TriggerCondition

	// Cooldown is the quiet period after any alert on this market.
	Cooldown time.Duration
}

// Alert is emitted when a condition fires on a watched market.
type Alert struct {
	MarketID  string
	Venue     domain.Venue
	Trigger   TriggerCondition
	Value     decimal.Decimal
	State     MarketState
	FiredAt   time.Time
	FireCount int
}
