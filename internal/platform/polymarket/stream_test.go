package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream() *Stream {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStream("wss://ws-subscriptions-clob.polymarket.com/ws/market", logger)
}

func TestBookMessageReplacesSides(t *testing.T) {
	s := newTestStream()

	var last domain.OrderbookSnapshot
	s.OnOrderbook(func(snap domain.OrderbookSnapshot) { last = snap })

	s.handleMessage([]byte(`{
		"event_type": "book",
		"asset_id": "tok-1",
		"bids": [{"price": "0.41", "size": "120"}, {"price": "0.44", "size": "30"}],
		"asks": [{"price": "0.47", "size": "55"}],
		"timestamp": "1700000000000"
	}`))

	assert.Equal(t, domain.VenuePolymarket, last.Venue)
	assert.Equal(t, "tok-1", last.Instrument)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.44, Size: 30}, {Price: 0.41, Size: 120}}, last.Bids)
	assert.Equal(t, 0.47, last.BestAsk)

	// A second book message wipes the previous state.
	s.handleMessage([]byte(`{
		"event_type": "book",
		"asset_id": "tok-1",
		"bids": [{"price": "0.30", "size": "5"}],
		"asks": []
	}`))
	assert.Equal(t, []domain.PriceLevel{{Price: 0.30, Size: 5}}, last.Bids)
	assert.Empty(t, last.Asks)
}

func TestPriceChangeUpsertsAndRemoves(t *testing.T) {
	s := newTestStream()

	var last domain.OrderbookSnapshot
	s.OnOrderbook(func(snap domain.OrderbookSnapshot) { last = snap })

	s.handleMessage([]byte(`{
		"event_type": "book",
		"asset_id": "tok-1",
		"bids": [{"price": "0.41", "size": "120"}],
		"asks": [{"price": "0.47", "size": "55"}]
	}`))

	s.handleMessage([]byte(`{
		"event_type": "price_change",
		"asset_id": "tok-1",
		"side": "BUY", "price": "0.42", "size": "10"
	}`))
	assert.Equal(t, 0.42, last.BestBid)

	// Size "0" removes the ask level.
	s.handleMessage([]byte(`{
		"event_type": "price_change",
		"asset_id": "tok-1",
		"side": "SELL", "price": "0.47", "size": "0"
	}`))
	assert.Empty(t, last.Asks)
}

func TestLastTradePriceNormalized(t *testing.T) {
	s := newTestStream()

	var trades []domain.TradeEvent
	s.OnTrade(func(tr domain.TradeEvent) { trades = append(trades, tr) })

	s.handleMessage([]byte(`{
		"event_type": "last_trade_price",
		"asset_id": "tok-1",
		"price": "0.52", "size": "200", "side": "SELL",
		"timestamp": "1700000000000"
	}`))

	require.Len(t, trades, 1)
	assert.Equal(t, domain.VenuePolymarket, trades[0].Venue)
	assert.Equal(t, 0.52, trades[0].Price)
	assert.Equal(t, "sell", trades[0].Side)
	assert.Equal(t, int64(1700000000), trades[0].Timestamp.Unix())
}

func TestSubscribePayloadWireFormat(t *testing.T) {
	// The CLOB accepts exactly one subscription message: the asset ids plus
	// the "market" type. No per-channel commands exist.
	data, err := json.Marshal(wsCommand{
		Assets: []string{"tok-1", "tok-2"},
		Type:   marketChannel,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets_ids":["tok-1","tok-2"],"type":"market"}`, string(data))
}

func TestDeliverUnblocksWhenSessionGone(t *testing.T) {
	s := newTestStream()

	// No consumer on frames, as after the session loop has returned.
	frames := make(chan []byte)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := make(chan bool, 1)
	go func() { result <- s.deliver(ctx, frames, []byte(`{}`)) }()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frame delivery still blocked after context cancellation")
	}

	// Stop releases it the same way.
	s.Stop()
	go func() { result <- s.deliver(context.Background(), frames, []byte(`{}`)) }()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frame delivery still blocked after Stop")
	}
}

func TestUnknownEventsDropped(t *testing.T) {
	s := newTestStream()

	fired := 0
	s.OnOrderbook(func(domain.OrderbookSnapshot) { fired++ })

	s.handleMessage([]byte(`{"event_type": "tick_size_change", "asset_id": "tok-1"}`))
	s.handleMessage([]byte(`garbage`))
	assert.Zero(t, fired)
}

func TestListenerPanicIsolated(t *testing.T) {
	s := newTestStream()

	ran := false
	s.OnOrderbook(func(domain.OrderbookSnapshot) { panic("bad listener") })
	s.OnOrderbook(func(domain.OrderbookSnapshot) { ran = true })

	require.NotPanics(t, func() {
		s.handleMessage([]byte(`{
			"event_type": "book",
			"asset_id": "tok-1",
			"bids": [{"price": "0.41", "size": "1"}],
			"asks": []
		}`))
	})
	assert.True(t, ran)
}

func TestToLevelsSkipsUnparseable(t *testing.T) {
	levels := toLevels([]APILevel{
		{Price: "0.41", Size: "10"},
		{Price: "abc", Size: "10"},
		{Price: "0.42", Size: ""},
		{Price: "0.43", Size: "5"},
	})
	assert.Equal(t, []domain.PriceLevel{{Price: 0.41, Size: 10}, {Price: 0.43, Size: 5}}, levels)
}

func TestAPIMarketToDomain(t *testing.T) {
	m := APIMarket{
		ID:           "0xabc",
		Question:     "Will the Lakers beat the Warriors?",
		Slug:         "nba-lal-gsw-2025-12-23",
		Active:       true,
		Volume:       "123456.78",
		Liquidity:    "9876.5",
		EndDateISO:   "2025-12-24T04:00:00Z",
		ClobTokenIDs: `["111", "222"]`,
	}

	dm := m.ToDomainMarket()
	assert.Equal(t, domain.VenuePolymarket, dm.Venue)
	assert.Equal(t, "active", dm.Status)
	assert.Equal(t, []string{"111", "222"}, dm.ClobTokenIDs)
	assert.True(t, dm.HasBothOutcomes())
	assert.Equal(t, 123456.78, dm.Volume)

	// Closed beats active; malformed token ids leave the slice empty.
	m.Closed = true
	m.ClobTokenIDs = "not-json"
	dm = m.ToDomainMarket()
	assert.Equal(t, "closed", dm.Status)
	assert.False(t, dm.HasBothOutcomes())
}

func TestFlexBool(t *testing.T) {
	var m APIMarket
	require.NoError(t, jsonUnmarshal(`{"active": "true"}`, &m))
	assert.True(t, bool(m.Active))
	require.NoError(t, jsonUnmarshal(`{"active": false}`, &m))
	assert.False(t, bool(m.Active))
}

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
