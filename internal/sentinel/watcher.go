package sentinel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// defaultCooldown is the per-market quiet period after any alert.
const defaultCooldown = 5 * time.Minute

// AlertFunc receives fired alerts. Handlers run synchronously on the
// watcher's calling goroutine; keep them fast or hand off internally.
type AlertFunc func(Alert)

// Watcher connects live market data to the evaluator. Stream clients feed it
// snapshots and ticks; it maintains per-market state, evaluates every
// registered condition, and emits alerts through the registered handlers.
// Safe for concurrent use.
type Watcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	eval      *Evaluator
	watched   map[string]WatchedMarket
	states    map[string]MarketState
	lastAlert map[string]time.Time
	handlers  []AlertFunc

	now func() time.Time
}

// NewWatcher creates a watcher with an empty watch list.
func NewWatcher(logger *slog.Logger) *Watcher {
	return &Watcher{
		logger:    logger.With(slog.String("component", "sentinel")),
		eval:      NewEvaluator(),
		watched:   make(map[string]WatchedMarket),
		states:    make(map[string]MarketState),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// OnAlert registers a handler for fired alerts.
func (w *Watcher) OnAlert(fn AlertFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Watch adds or replaces a watched market.
func (w *Watcher) Watch(m WatchedMarket) {
	if m.Cooldown <= 0 {
		m.Cooldown = defaultCooldown
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[m.MarketID] = m
	w.logger.Info("watching market",
		slog.String("market", m.MarketID),
		slog.String("venue", string(m.Venue)),
		slog.Int("triggers", len(m.Triggers)))
}

// Unwatch removes a market from the watch list. Trigger state is retained so
// re-adding the market keeps its debounce history.
func (w *Watcher) Unwatch(marketID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, marketID)
}

// Watched returns the current watch list.
func (w *Watcher) Watched() []WatchedMarket {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WatchedMarket, 0, len(w.watched))
	for _, m := range w.watched {
		out = append(out, m)
	}
	return out
}

// HandleOrderbook ingests a book snapshot for a watched market and evaluates
// its conditions. Snapshots for unwatched markets are ignored.
func (w *Watcher) HandleOrderbook(snap domain.OrderbookSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.watched[snap.Instrument]
	if !ok {
		return
	}

	prev := w.states[snap.Instrument]
	state := MarketState{
		MarketID:   snap.Instrument,
		Venue:      snap.Venue,
		Question:   prev.Question,
		Status:     prev.Status,
		BestBid:    decimal.NewFromFloat(snap.BestBid),
		BestAsk:    decimal.NewFromFloat(snap.BestAsk),
		Spread:     decimal.NewFromFloat(snap.Spread),
		Imbalance:  snap.Imbalance(),
		Timestamp:  snap.Timestamp,
		PrevStatus: prev.Status,
	}
	state.BidDepthUSD, state.AskDepthUSD = depthUSD(snap)
	w.states[snap.Instrument] = state

	if snap.MidPrice > 0 {
		mid := decimal.NewFromFloat(snap.MidPrice)
		w.eval.UpdateHistory(snap.Instrument, &mid, nil)
	}

	w.evaluateLocked(m, state)
}

// HandleTrade ingests a trade print, feeding the volume history used by
// spike detection.
func (w *Watcher) HandleTrade(trade domain.TradeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[trade.Instrument]; !ok {
		return
	}
	vol := decimal.NewFromFloat(trade.Price * trade.Size)
	w.eval.UpdateHistory(trade.Instrument, nil, &vol)
}

// SetStatus records a market status change ("active", "halted", "closed")
// and evaluates conditions, which is how reopen triggers fire.
func (w *Watcher) SetStatus(marketID, status string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.watched[marketID]
	if !ok {
		return
	}

	state := w.states[marketID]
	state.MarketID = marketID
	state.Venue = m.Venue
	state.PrevStatus = state.Status
	state.Status = status
	state.Timestamp = w.now()
	w.states[marketID] = state

	w.evaluateLocked(m, state)
}

// Reset clears all evaluator state and cooldowns. The watch list survives.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.eval.Reset()
	w.lastAlert = make(map[string]time.Time)
	w.states = make(map[string]MarketState)
}

// Stats returns fire counts keyed by market:type:threshold.
func (w *Watcher) Stats() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eval.Stats()
}

func (w *Watcher) evaluateLocked(m WatchedMarket, state MarketState) {
	now := w.now()
	if last, ok := w.lastAlert[m.MarketID]; ok && now.Sub(last) < m.Cooldown {
		return
	}

	for _, cond := range m.Triggers {
		fired, value := w.eval.Evaluate(cond, state)
		if !fired {
			continue
		}

		w.eval.RecordFire(m.MarketID, cond, value)
		w.lastAlert[m.MarketID] = now

		alert := Alert{
			MarketID:  m.MarketID,
			Venue:     m.Venue,
			Trigger:   cond,
			Value:     value,
			State:     state,
			FiredAt:   now,
			FireCount: w.eval.FireCount(m.MarketID, cond),
		}
		w.logger.Info("trigger fired",
			slog.String("market", m.MarketID),
			slog.String("type", string(cond.Type)),
			slog.String("value", value.String()))
		w.emit(alert)

		// One alert per market per evaluation; the cooldown now applies.
		return
	}
}

func (w *Watcher) emit(alert Alert) {
	for _, fn := range w.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("alert handler panicked", slog.Any("panic", r))
				}
			}()
			fn(alert)
		}()
	}
}

func depthUSD(snap domain.OrderbookSnapshot) (bid, ask decimal.Decimal) {
	var b, a float64
	for _, l := range snap.Bids {
		b += l.Price * l.Size
	}
	for _, l := range snap.Asks {
		a += l.Price * l.Size
	}
	return decimal.NewFromFloat(b), decimal.NewFromFloat(a)
}
