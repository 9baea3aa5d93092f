package domain

import "time"

// Market is venue-neutral market metadata. For Polymarket markets the
// ClobTokenIDs slice carries the outcome token ids in [yes, no] order as
// returned by the Gamma API.
type Market struct {
	ID           string
	Venue        Venue
	Slug         string
	Question     string
	Status       string // "active", "closed", "settled"
	ClobTokenIDs []string
	Volume       float64
	Liquidity    float64
	EndDate      time.Time
}

// HasBothOutcomes reports whether the market metadata carries the two outcome
// token ids the arbitrage detector needs.
func (m *Market) HasBothOutcomes() bool {
	return len(m.ClobTokenIDs) >= 2
}
