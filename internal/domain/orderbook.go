package domain

import "time"

// Venue identifies one of the two supported exchanges.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// PriceLevel is a single price+size entry in an orderbook. Prices are
// normalized to the common probability scale (0.00-1.00) regardless of the
// venue's native units.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a fully materialized, sorted view of one instrument's
// book: bids descending, asks ascending. Snapshots are immutable; stream
// clients build a fresh one after every applied update.
type OrderbookSnapshot struct {
	Venue      Venue
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	BestBid    float64
	BestAsk    float64
	MidPrice   float64
	Spread     float64
	Timestamp  time.Time
}

// Imbalance returns the signed order-book imbalance in [-1, 1]:
// (bidDepth - askDepth) / (bidDepth + askDepth). Zero when both sides are
// empty.
func (s *OrderbookSnapshot) Imbalance() float64 {
	var bid, ask float64
	for _, l := range s.Bids {
		bid += l.Price * l.Size
	}
	for _, l := range s.Asks {
		ask += l.Price * l.Size
	}
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// TickerUpdate is a normalized top-of-book/last-price tick.
type TickerUpdate struct {
	Venue      Venue
	Instrument string
	BestBid    float64
	BestAsk    float64
	LastPrice  float64
	Volume     float64
	Timestamp  time.Time
}

// TradeEvent is a normalized public trade print. Forwarded without state
// retention.
type TradeEvent struct {
	Venue      Venue
	Instrument string
	Price      float64
	Size       float64
	Side       string // "buy" or "sell"
	Timestamp  time.Time
}

// FillEvent is a normalized private fill on the user's own order.
type FillEvent struct {
	Venue      Venue
	Instrument string
	OrderID    string
	Price      float64
	Size       float64
	Side       string
	Timestamp  time.Time
}

// PositionUpdate is a normalized position change on a private channel.
type PositionUpdate struct {
	Venue      Venue
	Instrument string
	Position   float64
	Exposure   float64
	Timestamp  time.Time
}
