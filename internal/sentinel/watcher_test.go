package sentinel

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

func newTestWatcher(start time.Time) (*Watcher, *time.Time) {
	clock := start
	w := NewWatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.now = func() time.Time { return clock }
	w.eval.now = w.now
	return w, &clock
}

func bookSnapshot(instrument string, bid, ask float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Venue:      domain.VenueKalshi,
		Instrument: instrument,
		Bids:       []domain.PriceLevel{{Price: bid, Size: 100}},
		Asks:       []domain.PriceLevel{{Price: ask, Size: 100}},
		BestBid:    bid,
		BestAsk:    ask,
		MidPrice:   (bid + ask) / 2,
		Spread:     ask - bid,
		Timestamp:  time.Now(),
	}
}

func TestWatcherAlertsOnPriceBelow(t *testing.T) {
	w, _ := newTestWatcher(time.Unix(1_700_000_000, 0))

	var alerts []Alert
	w.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	w.Watch(WatchedMarket{
		MarketID: "MKT-1",
		Venue:    domain.VenueKalshi,
		Triggers: []TriggerCondition{NewTriggerCondition(TriggerPriceBelow, dec(0.30), "BUY")},
	})

	w.HandleOrderbook(bookSnapshot("MKT-1", 0.45, 0.48))
	assert.Empty(t, alerts)

	w.HandleOrderbook(bookSnapshot("MKT-1", 0.28, 0.31))
	require.Len(t, alerts, 1)
	assert.Equal(t, "MKT-1", alerts[0].MarketID)
	assert.Equal(t, TriggerPriceBelow, alerts[0].Trigger.Type)
	assert.True(t, alerts[0].Value.Equal(dec(0.28)))
	assert.Equal(t, 1, alerts[0].FireCount)
}

func TestWatcherCooldownSuppressesRepeats(t *testing.T) {
	w, clock := newTestWatcher(time.Unix(1_700_000_000, 0))

	var alerts []Alert
	w.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	cond := NewTriggerCondition(TriggerSpreadAbove, dec(0.05), "")
	w.Watch(WatchedMarket{
		MarketID: "MKT-1",
		Venue:    domain.VenueKalshi,
		Triggers: []TriggerCondition{cond},
		Cooldown: 5 * time.Minute,
	})

	w.HandleOrderbook(bookSnapshot("MKT-1", 0.40, 0.48))
	require.Len(t, alerts, 1)

	// Same condition still holding inside the market cooldown: silent.
	*clock = clock.Add(2 * time.Minute)
	w.HandleOrderbook(bookSnapshot("MKT-1", 0.40, 0.48))
	assert.Len(t, alerts, 1)

	*clock = clock.Add(4 * time.Minute)
	w.HandleOrderbook(bookSnapshot("MKT-1", 0.40, 0.48))
	assert.Len(t, alerts, 2)
}

func TestWatcherIgnoresUnwatchedMarkets(t *testing.T) {
	w, _ := newTestWatcher(time.Unix(1_700_000_000, 0))

	var alerts []Alert
	w.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	w.HandleOrderbook(bookSnapshot("UNKNOWN", 0.10, 0.12))
	assert.Empty(t, alerts)
}

func TestWatcherStatusTransitionFiresReopen(t *testing.T) {
	w, _ := newTestWatcher(time.Unix(1_700_000_000, 0))

	var alerts []Alert
	w.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	w.Watch(WatchedMarket{
		MarketID: "MKT-1",
		Venue:    domain.VenuePolymarket,
		Triggers: []TriggerCondition{NewTriggerCondition(TriggerMarketReopen, dec(0), "")},
	})

	w.SetStatus("MKT-1", "halted")
	assert.Empty(t, alerts)

	w.SetStatus("MKT-1", "active")
	require.Len(t, alerts, 1)
	assert.Equal(t, TriggerMarketReopen, alerts[0].Trigger.Type)
}

func TestWatcherHandlerPanicIsolated(t *testing.T) {
	w, _ := newTestWatcher(time.Unix(1_700_000_000, 0))

	var called bool
	w.OnAlert(func(Alert) { panic("boom") })
	w.OnAlert(func(Alert) { called = true })

	w.Watch(WatchedMarket{
		MarketID: "MKT-1",
		Venue:    domain.VenueKalshi,
		Triggers: []TriggerCondition{NewTriggerCondition(TriggerSpreadAbove, dec(0.05), "")},
	})

	w.HandleOrderbook(bookSnapshot("MKT-1", 0.40, 0.48))
	assert.True(t, called)
}

func TestWatcherUnwatchStopsAlerts(t *testing.T) {
	w, _ := newTestWatcher(time.Unix(1_700_000_000, 0))

	var alerts []Alert
	w.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	w.Watch(WatchedMarket{
		MarketID: "MKT-1",
		Venue:    domain.VenueKalshi,
		Triggers: []TriggerCondition{NewTriggerCondition(TriggerSpreadAbove, dec(0.05), "")},
	})
	w.Unwatch("MKT-1")

	w.HandleOrderbook(bookSnapshot("MKT-1", 0.40, 0.48))
	assert.Empty(t, alerts)
}
