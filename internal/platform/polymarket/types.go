package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Volume        string   `json:"volume"`
	Liquidity     string   `json:"liquidity"`
	EndDateISO    string   `json:"endDateIso"`
	GameStartTime string   `json:"gameStartTime"`
	ClobTokenIDs  string   `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Outcomes      string   `json:"outcomes"`     // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
}

// ToDomainMarket converts a Gamma APIMarket to venue-neutral metadata. The
// double-encoded clobTokenIds field decodes into the token id slice; a
// malformed field leaves it empty, which downstream treats as "not tradable".
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		Venue:    domain.VenuePolymarket,
		Slug:     m.Slug,
		Question: m.Question,
	}

	switch {
	case m.Closed:
		dm.Status = "closed"
	case bool(m.Active):
		dm.Status = "active"
	default:
		dm.Status = "settled"
	}

	if m.ClobTokenIDs != "" {
		_ = json.Unmarshal([]byte(m.ClobTokenIDs), &dm.ClobTokenIDs)
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}
	if l, err := strconv.ParseFloat(m.Liquidity, 64); err == nil {
		dm.Liquidity = l
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.EndDate = t
		} else if t, err := time.Parse("2006-01-02", m.EndDateISO); err == nil {
			dm.EndDate = t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder is an order as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	MarketID     string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	CreatedAt    string `json:"created_at"`
}

// APIBook is the CLOB REST orderbook response for one token.
type APIBook struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
	Hash      string     `json:"hash"`
}

// APILevel is a single price level with decimal-string fields.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsCommand is the JSON subscription payload: the asset ids to follow plus
// the subscription type ("market").
type wsCommand struct {
	Assets []string `json:"assets_ids"`
	Type   string   `json:"type"`
}

// wsBookMessage is a full orderbook snapshot for one asset.
type wsBookMessage struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
	Hash      string     `json:"hash"`
}

// wsPriceChange is an incremental per-level update. Size "0" removes the
// level.
type wsPriceChange struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// wsLastTradePrice is the most recent trade for an asset.
type wsLastTradePrice struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// toLevels converts decimal-string levels to numeric price levels, skipping
// entries that fail to parse.
func toLevels(in []APILevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, perr := strconv.ParseFloat(l.Price, 64)
		s, serr := strconv.ParseFloat(l.Size, 64)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseWSTimestamp handles the CLOB's millisecond-epoch string timestamps,
// falling back to RFC 3339 and then to now.
func parseWSTimestamp(ts string) time.Time {
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Now()
}
