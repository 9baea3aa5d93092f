package arbitrage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

type fakeBooks struct {
	books map[string]domain.OrderbookSnapshot
	errs  map[string]error
}

func (f *fakeBooks) GetOrderbook(_ context.Context, id string) (domain.OrderbookSnapshot, error) {
	if err, ok := f.errs[id]; ok {
		return domain.OrderbookSnapshot{}, err
	}
	return f.books[id], nil
}

func snapshot(bids, asks []domain.PriceLevel) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{Bids: bids, Asks: asks}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	return snap
}

func pricedPair() MarketPair {
	return MarketPair{
		ID:           "pair-1",
		KalshiTicker: "KXNBAGAME-23DEC25-LAL-GSW",
		PolyMarket: domain.Market{
			ID:           "pm-1",
			ClobTokenIDs: []string{"tok-yes", "tok-no"},
		},
	}
}

func TestCheckPairPricesBothStrategies(t *testing.T) {
	kalshiBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		// yes bid 0.55, yes ask 0.58 (normalized)
		"KXNBAGAME-23DEC25-LAL-GSW": snapshot(
			[]domain.PriceLevel{{Price: 0.55, Size: 100}},
			[]domain.PriceLevel{{Price: 0.58, Size: 80}},
		),
	}}
	polyBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes": snapshot(nil, []domain.PriceLevel{{Price: 0.40, Size: 50}}),
		"tok-no":  snapshot(nil, []domain.PriceLevel{{Price: 0.44, Size: 50}}),
	}}

	d := NewDetector(kalshiBooks, polyBooks, kalshiTakerFee, discardLogger())
	opp, err := d.CheckPair(context.Background(), pricedPair())
	require.NoError(t, err)
	require.NotNil(t, opp)

	// Strategy 1: poly yes 0.40 + kalshi no (1 - 0.55) + 0.02 fee = 0.87
	assert.InDelta(t, 0.87, opp.CostPolyYesKalshiNo, 1e-9)
	assert.InDelta(t, 0.13, opp.ProfitPolyYesKalshiNo, 1e-9)

	// Strategy 2: kalshi yes 0.58 + poly no 0.44 + 0.02 fee = 1.04
	assert.InDelta(t, 1.04, opp.CostKalshiYesPolyNo, 1e-9)
	assert.InDelta(t, -0.04, opp.ProfitKalshiYesPolyNo, 1e-9)

	assert.True(t, opp.IsProfitable())
	assert.InDelta(t, 0.13, opp.MaxProfit(), 1e-9)
	assert.Equal(t, "Buy Poly YES / Kalshi NO", opp.BestStrategy())
}

func TestCheckPairEmptyBookUsesSentinel(t *testing.T) {
	kalshiBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"KXNBAGAME-23DEC25-LAL-GSW": snapshot(nil, nil),
	}}
	polyBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes": snapshot(nil, []domain.PriceLevel{{Price: 0.40, Size: 50}}),
		"tok-no":  snapshot(nil, nil),
	}}

	d := NewDetector(kalshiBooks, polyBooks, kalshiTakerFee, discardLogger())
	opp, err := d.CheckPair(context.Background(), pricedPair())
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, emptyBookPrice, opp.KalshiYesPrice)
	assert.Equal(t, emptyBookPrice, opp.KalshiNoPrice)
	assert.Equal(t, emptyBookPrice, opp.PolyNoPrice)
	assert.False(t, opp.IsProfitable())
}

func TestCheckPairRequiresBothTokenIDs(t *testing.T) {
	d := NewDetector(&fakeBooks{}, &fakeBooks{}, kalshiTakerFee, discardLogger())

	pair := pricedPair()
	pair.PolyMarket.ClobTokenIDs = []string{"tok-yes"}

	opp, err := d.CheckPair(context.Background(), pair)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestCheckPairSkipsOnVenueError(t *testing.T) {
	kalshiBooks := &fakeBooks{errs: map[string]error{
		"KXNBAGAME-23DEC25-LAL-GSW": errors.New("timeout"),
	}}
	polyBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes": snapshot(nil, []domain.PriceLevel{{Price: 0.40, Size: 50}}),
		"tok-no":  snapshot(nil, []domain.PriceLevel{{Price: 0.44, Size: 50}}),
	}}

	d := NewDetector(kalshiBooks, polyBooks, kalshiTakerFee, discardLogger())
	opp, err := d.CheckPair(context.Background(), pricedPair())
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestCheckPairSkipsWhenNoLegFetchFails(t *testing.T) {
	kalshiBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"KXNBAGAME-23DEC25-LAL-GSW": snapshot(
			[]domain.PriceLevel{{Price: 0.55, Size: 100}},
			[]domain.PriceLevel{{Price: 0.58, Size: 80}},
		),
	}}
	polyBooks := &fakeBooks{
		books: map[string]domain.OrderbookSnapshot{
			"tok-yes": snapshot(nil, []domain.PriceLevel{{Price: 0.40, Size: 50}}),
		},
		errs: map[string]error{"tok-no": errors.New("clob unavailable")},
	}

	// A failed fetch aborts the whole pair; it must not price the missing
	// leg as an empty book.
	d := NewDetector(kalshiBooks, polyBooks, kalshiTakerFee, discardLogger())
	opp, err := d.CheckPair(context.Background(), pricedPair())
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestScanPairsReportsPartialResults(t *testing.T) {
	kalshiBooks := &fakeBooks{
		books: map[string]domain.OrderbookSnapshot{
			"K-OK": snapshot(
				[]domain.PriceLevel{{Price: 0.50, Size: 10}},
				[]domain.PriceLevel{{Price: 0.52, Size: 10}},
			),
		},
		errs: map[string]error{"K-BAD": errors.New("boom")},
	}
	polyBooks := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"tok-yes": snapshot(nil, []domain.PriceLevel{{Price: 0.45, Size: 10}}),
		"tok-no":  snapshot(nil, []domain.PriceLevel{{Price: 0.50, Size: 10}}),
	}}

	good := pricedPair()
	good.ID = "good"
	good.KalshiTicker = "K-OK"
	bad := pricedPair()
	bad.ID = "bad"
	bad.KalshiTicker = "K-BAD"

	d := NewDetector(kalshiBooks, polyBooks, kalshiTakerFee, discardLogger())
	opps := d.ScanPairs(context.Background(), []MarketPair{good, bad})

	require.Len(t, opps, 1)
	assert.Equal(t, "good", opps[0].PairID)
}
