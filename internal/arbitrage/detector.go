package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// scanConcurrency bounds parallel orderbook fan-out during a scan.
const scanConcurrency = 5

// KalshiBooks fetches a normalized Kalshi book by market ticker.
type KalshiBooks interface {
	GetOrderbook(ctx context.Context, ticker string) (domain.OrderbookSnapshot, error)
}

// PolyBooks fetches a normalized Polymarket book by outcome token id.
type PolyBooks interface {
	GetOrderbook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Detector prices cross-venue pairs. For each pair it fetches the Kalshi book
// and both Polymarket outcome books, then costs the two covering strategies:
//
//	cost1 = polyYesAsk + kalshiNoAsk + fee   (buy Poly YES, buy Kalshi NO)
//	cost2 = kalshiYesAsk + polyNoAsk + fee   (buy Kalshi YES, buy Poly NO)
//
// A strategy whose legs both fill pays out exactly $1.00, so profit is
// 1 - cost. Missing liquidity prices as emptyBookPrice, pushing that strategy
// far out of the money instead of erroring.
type Detector struct {
	kalshi KalshiBooks
	poly   PolyBooks
	fee    float64
	logger *slog.Logger
}

// NewDetector creates a detector over the two venues' book sources. fee is the
// per-strategy taker fee; zero or negative falls back to the Kalshi default.
func NewDetector(kalshi KalshiBooks, poly PolyBooks, fee float64, logger *slog.Logger) *Detector {
	if fee <= 0 {
		fee = kalshiTakerFee
	}
	return &Detector{
		kalshi: kalshi,
		poly:   poly,
		fee:    fee,
		logger: logger.With(slog.String("component", "arb_detector")),
	}
}

// CheckPair prices a single pair. Pairs whose Polymarket metadata lacks both
// outcome token ids cannot be priced and return (nil, nil); a venue error on
// any of the three legs also yields (nil, nil) so a scan reports partial
// results rather than aborting. Only an empty ask side on a successful fetch
// prices as emptyBookPrice.
func (d *Detector) CheckPair(ctx context.Context, pair MarketPair) (*Opportunity, error) {
	if !pair.PolyMarket.HasBothOutcomes() {
		return nil, nil
	}
	yesTokenID := pair.PolyMarket.ClobTokenIDs[0]
	noTokenID := pair.PolyMarket.ClobTokenIDs[1]

	var kalshiBook, polyYesBook, polyNoBook domain.OrderbookSnapshot
	var kalshiErr, polyYesErr, polyNoErr error

	var g errgroup.Group
	g.Go(func() error {
		kalshiBook, kalshiErr = d.kalshi.GetOrderbook(ctx, pair.KalshiTicker)
		return nil
	})
	g.Go(func() error {
		polyYesBook, polyYesErr = d.poly.GetOrderbook(ctx, yesTokenID)
		return nil
	})
	g.Go(func() error {
		polyNoBook, polyNoErr = d.poly.GetOrderbook(ctx, noTokenID)
		return nil
	})
	_ = g.Wait()

	if kalshiErr != nil || polyYesErr != nil || polyNoErr != nil {
		d.logger.Debug("pair skipped, book fetch failed",
			slog.String("pair_id", pair.ID))
		return nil, nil
	}

	kalshiYesAsk := bestAsk(kalshiBook)
	kalshiNoAsk := noSideAsk(kalshiBook)
	polyYesAsk := bestAsk(polyYesBook)
	polyNoAsk := bestAsk(polyNoBook)

	cost1 := polyYesAsk + kalshiNoAsk + d.fee
	cost2 := kalshiYesAsk + polyNoAsk + d.fee

	return &Opportunity{
		PairID:    pair.ID,
		Timestamp: time.Now(),

		CostPolyYesKalshiNo: cost1,
		CostKalshiYesPolyNo: cost2,

		ProfitPolyYesKalshiNo: 1.0 - cost1,
		ProfitKalshiYesPolyNo: 1.0 - cost2,

		PolyYesPrice:   polyYesAsk,
		KalshiNoPrice:  kalshiNoAsk,
		KalshiYesPrice: kalshiYesAsk,
		PolyNoPrice:    polyNoAsk,
	}, nil
}

// ScanPairs prices all pairs with bounded fan-out, returning every
// opportunity that could be priced. Per-pair failures are dropped.
func (d *Detector) ScanPairs(ctx context.Context, pairs []MarketPair) []Opportunity {
	var mu sync.Mutex
	var out []Opportunity

	var g errgroup.Group
	g.SetLimit(scanConcurrency)
	for _, pair := range pairs {
		g.Go(func() error {
			opp, err := d.CheckPair(ctx, pair)
			if err != nil || opp == nil {
				return nil
			}
			mu.Lock()
			out = append(out, *opp)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// bestAsk returns the cost of the cheapest resting ask, or emptyBookPrice
// when the side is empty.
func bestAsk(snap domain.OrderbookSnapshot) float64 {
	if len(snap.Asks) == 0 {
		return emptyBookPrice
	}
	return snap.Asks[0].Price
}

// noSideAsk returns the cost of buying the NO outcome off a normalized
// yes-outcome book: filling against the best yes bid at p sells YES, which is
// the same exposure as buying NO at 1-p.
func noSideAsk(snap domain.OrderbookSnapshot) float64 {
	if len(snap.Bids) == 0 {
		return emptyBookPrice
	}
	return 1.0 - snap.Bids[0].Price
}
