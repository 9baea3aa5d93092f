package kalshi

import (
	"encoding/json"
)

// Market is a market as returned by the Kalshi REST API. Prices are in cents.
type Market struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	NoBid          float64 `json:"no_bid"`
	NoAsk          float64 `json:"no_ask"`
	LastPrice      float64 `json:"last_price"`
	Volume         int64   `json:"volume"`
	Volume24H      int64   `json:"volume_24h"`
	OpenInterest   int64   `json:"open_interest"`
	ExpirationTime string  `json:"expiration_time"`
	Category       string  `json:"category"`
	Result         string  `json:"result"` // "yes", "no", "" (unsettled)
	OpenTime       string  `json:"open_time"`
	CloseTime      string  `json:"close_time"`
}

// Event groups the markets for one real-world occurrence (e.g. one game).
type Event struct {
	EventTicker  string   `json:"event_ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	SubTitle     string   `json:"sub_title"`
	Category     string   `json:"category"`
	Markets      []Market `json:"markets"`
}

// Level is a single [price_cents, quantity] orderbook entry as Kalshi encodes
// it on the wire.
type Level [2]float64

// Price returns the level's price in cents.
func (l Level) Price() float64 { return l[0] }

// Quantity returns the number of contracts resting at the level.
func (l Level) Quantity() float64 { return l[1] }

// Orderbook is the raw two-sided Kalshi book. "Yes" levels are bids on the
// yes outcome; "no" levels are bids on the no outcome and invert into asks on
// the yes outcome.
type Orderbook struct {
	Ticker string  `json:"ticker"`
	Yes    []Level `json:"yes"`
	No     []Level `json:"no"`
}

// Order is a resting order as returned by GET /portfolio/orders.
type Order struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"` // "buy" or "sell"
	Side           string `json:"side"`   // "yes" or "no"
	Type           string `json:"type"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
	PlacedTime     string `json:"placed_time"`
}

// ErrorResponse is the Kalshi API error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsEnvelope wraps every inbound WebSocket message.
type wsEnvelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}

// wsSubscribeCmd is the outbound subscribe command. IDs are monotonically
// increasing per connection.
type wsSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsSubscribeParams `json:"params"`
}

type wsSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers,omitempty"`
}

// wsOrderbookSnapshot carries the full book for one instrument.
type wsOrderbookSnapshot struct {
	Ticker string  `json:"market_ticker"`
	Yes    []Level `json:"yes"`
	No     []Level `json:"no"`
}

// wsOrderbookDelta carries a single-level update. A zero size removes the
// level.
type wsOrderbookDelta struct {
	Ticker string  `json:"market_ticker"`
	Price  float64 `json:"price"` // cents
	Delta  float64 `json:"delta"` // resulting quantity at the level
	Side   string  `json:"side"`  // "yes" or "no"
}

// wsTicker carries top-of-book and last-trade prices, in cents.
type wsTicker struct {
	Ticker    string  `json:"market_ticker"`
	YesBid    float64 `json:"yes_bid"`
	YesAsk    float64 `json:"yes_ask"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"ts"`
}

// wsTrade is a public trade print.
type wsTrade struct {
	Ticker    string  `json:"market_ticker"`
	YesPrice  float64 `json:"yes_price"` // cents
	Count     float64 `json:"count"`
	TakerSide string  `json:"taker_side"` // "yes" or "no"
	Timestamp int64   `json:"ts"`
}

// wsFill is a private fill on one of the user's orders.
type wsFill struct {
	Ticker    string  `json:"market_ticker"`
	OrderID   string  `json:"order_id"`
	YesPrice  float64 `json:"yes_price"` // cents
	Count     float64 `json:"count"`
	Side      string  `json:"side"`
	Action    string  `json:"action"`
	Timestamp int64   `json:"ts"`
}

// wsPosition is a private position update.
type wsPosition struct {
	Ticker           string  `json:"market_ticker"`
	Position         float64 `json:"position"`
	MarketExposure   float64 `json:"market_exposure"` // cents
	RealizedPnl      float64 `json:"realized_pnl"`
	TotalTradedCents float64 `json:"total_traded"`
	Timestamp        int64   `json:"ts"`
}

// centsToProb converts a Kalshi cent price (1-99) to the common probability
// scale.
func centsToProb(cents float64) float64 {
	return cents / 100.0
}
