package sentinel

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// maxHistory is the rolling retention window for price/volume points.
const maxHistory = 2 * time.Hour

// timedValue is one observation in a market's rolling history.
type timedValue struct {
	at    time.Time
	value decimal.Decimal
}

// priceHistory holds recent price and volume observations for one market.
type priceHistory struct {
	prices  []timedValue
	volumes []timedValue
}

func (h *priceHistory) addPrice(at time.Time, p decimal.Decimal) {
	h.prices = append(h.prices, timedValue{at: at, value: p})
	h.cleanup(at)
}

func (h *priceHistory) addVolume(at time.Time, v decimal.Decimal) {
	h.volumes = append(h.volumes, timedValue{at: at, value: v})
	h.cleanup(at)
}

func (h *priceHistory) cleanup(now time.Time) {
	cutoff := now.Add(-maxHistory)
	h.prices = trimBefore(h.prices, cutoff)
	h.volumes = trimBefore(h.volumes, cutoff)
}

func trimBefore(points []timedValue, cutoff time.Time) []timedValue {
	i := 0
	for i < len(points) && !points[i].at.After(cutoff) {
		i++
	}
	return points[i:]
}

// volumeSince sums volume observed in the trailing window.
func (h *priceHistory) volumeSince(now time.Time, window time.Duration) decimal.Decimal {
	cutoff := now.Add(-window)
	total := decimal.Zero
	for _, v := range h.volumes {
		if v.at.After(cutoff) {
			total = total.Add(v.value)
		}
	}
	return total
}

// avgVolume averages volume observations in the trailing window. Zero when
// no observations exist.
func (h *priceHistory) avgVolume(now time.Time, window time.Duration) decimal.Decimal {
	cutoff := now.Add(-window)
	total := decimal.Zero
	count := 0
	for _, v := range h.volumes {
		if v.at.After(cutoff) {
			total = total.Add(v.value)
			count++
		}
	}
	if count == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(count)))
}

// priceChangePct returns the relative price change across the trailing
// window, zero when fewer than two points exist or the oldest price is zero.
func (h *priceHistory) priceChangePct(now time.Time, window time.Duration) decimal.Decimal {
	cutoff := now.Add(-window)
	var recent []timedValue
	for _, p := range h.prices {
		if p.at.After(cutoff) {
			recent = append(recent, p)
		}
	}
	if len(recent) < 2 {
		return decimal.Zero
	}
	oldest := recent[0].value
	newest := recent[len(recent)-1].value
	if oldest.IsZero() {
		return decimal.Zero
	}
	return newest.Sub(oldest).Div(oldest)
}

// triggerState tracks firing and re-arm state for one (market, condition)
// pair.
type triggerState struct {
	lastFiredAt       time.Time
	lastValueWhenFire decimal.Decimal
	crossedHysteresis bool
	fireCount         int
}

// recordFire stamps the fire and disarms the condition until the value
// retreats past the hysteresis band.
func (s *triggerState) recordFire(now time.Time, value decimal.Decimal) {
	s.lastFiredAt = now
	s.lastValueWhenFire = value
	s.crossedHysteresis = false
	s.fireCount++
}

// checkHysteresis re-arms the condition once the value has retreated past
// threshold ± threshold*hysteresis. For "above" triggers the value must drop
// below the band; for "below" triggers it must rise above it.
func (s *triggerState) checkHysteresis(current, threshold, hysteresis decimal.Decimal, isAboveTrigger bool) {
	if s.crossedHysteresis {
		return
	}

	margin := threshold.Mul(hysteresis)
	if isAboveTrigger {
		if current.LessThan(threshold.Sub(margin)) {
			s.crossedHysteresis = true
		}
	} else {
		if current.GreaterThan(threshold.Add(margin)) {
			s.crossedHysteresis = true
		}
	}
}

// Evaluator evaluates trigger conditions against market state. It is a pure
// decision engine: Evaluate answers whether a condition fires, and the
// caller reports actual fires back through RecordFire for debounce and
// hysteresis tracking. Not safe for concurrent use; the watcher serializes
// access on its event loop.
type Evaluator struct {
	states    map[string]*triggerState
	histories map[string]*priceHistory

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		states:    make(map[string]*triggerState),
		histories: make(map[string]*priceHistory),
		now:       time.Now,
	}
}

func triggerKey(marketID string, c TriggerCondition) string {
	return fmt.Sprintf("%s:%s:%s", marketID, c.Type, c.Threshold)
}

func (e *Evaluator) state(marketID string, c TriggerCondition) *triggerState {
	key := triggerKey(marketID, c)
	s, ok := e.states[key]
	if !ok {
		// A fresh condition is armed: it may fire on the first evaluation.
		s = &triggerState{crossedHysteresis: true}
		e.states[key] = s
	}
	return s
}

func (e *Evaluator) history(marketID string) *priceHistory {
	h, ok := e.histories[marketID]
	if !ok {
		h = &priceHistory{}
		e.histories[marketID] = h
	}
	return h
}

// UpdateHistory records a price and/or volume observation for a market. Nil
// pointers skip that series.
func (e *Evaluator) UpdateHistory(marketID string, price, volume *decimal.Decimal) {
	h := e.history(marketID)
	now := e.now()
	if price != nil {
		h.addPrice(now, *price)
	}
	if volume != nil {
		h.addVolume(now, *volume)
	}
}

// Evaluate reports whether the condition fires against the given state, and
// the value it was judged on. The debounce gate is checked first: a
// condition inside its debounce window never fires regardless of the value.
func (e *Evaluator) Evaluate(c TriggerCondition, state MarketState) (bool, decimal.Decimal) {
	h := e.history(state.MarketID)
	ts := e.state(state.MarketID, c)
	now := e.now()

	if !ts.lastFiredAt.IsZero() && now.Sub(ts.lastFiredAt) < c.Debounce {
		return false, decimal.Zero
	}

	switch c.Type {
	case TriggerPriceBelow:
		current := state.BestBid
		ts.checkHysteresis(current, c.Threshold, c.Hysteresis, false)
		if !ts.crossedHysteresis {
			return false, current
		}
		return current.LessThanOrEqual(c.Threshold), current

	case TriggerPriceAbove:
		current := state.BestAsk
		ts.checkHysteresis(current, c.Threshold, c.Hysteresis, true)
		if !ts.crossedHysteresis {
			return false, current
		}
		return current.GreaterThanOrEqual(c.Threshold), current

	case TriggerSpreadAbove:
		return state.Spread.GreaterThanOrEqual(c.Threshold), state.Spread

	case TriggerSpreadBelow:
		return state.Spread.LessThanOrEqual(c.Threshold), state.Spread

	case TriggerVolumeSpike:
		recent := h.volumeSince(now, c.TimeWindow)
		baseline := h.avgVolume(now, c.BaselineWindow)
		// A zero baseline never fires: no history means no spike.
		if baseline.IsZero() {
			return false, decimal.Zero
		}
		ratio := recent.Div(baseline)
		return ratio.GreaterThan(c.Threshold), ratio

	case TriggerImbalanceBuy:
		current := decimal.NewFromFloat(state.Imbalance)
		return current.GreaterThanOrEqual(c.Threshold), current

	case TriggerImbalanceSell:
		current := decimal.NewFromFloat(state.Imbalance)
		return current.LessThanOrEqual(c.Threshold.Neg()), current

	case TriggerMarketReopen:
		fires := state.PrevStatus != "" &&
			state.PrevStatus != "active" &&
			state.Status == "active"
		return fires, decimal.Zero

	case TriggerNewsCorrelation:
		change := h.priceChangePct(now, c.TimeWindow)
		return change.Abs().GreaterThanOrEqual(c.Threshold), change

	default:
		return false, decimal.Zero
	}
}

// RecordFire records that a condition actually fired, starting its debounce
// window and disarming hysteresis.
func (e *Evaluator) RecordFire(marketID string, c TriggerCondition, value decimal.Decimal) {
	e.state(marketID, c).recordFire(e.now(), value)
}

// CanFire reports whether the condition is outside its debounce window.
func (e *Evaluator) CanFire(marketID string, c TriggerCondition) bool {
	ts := e.state(marketID, c)
	if ts.lastFiredAt.IsZero() {
		return true
	}
	return e.now().Sub(ts.lastFiredAt) >= c.Debounce
}

// FireCount returns how many times the condition has fired.
func (e *Evaluator) FireCount(marketID string, c TriggerCondition) int {
	return e.state(marketID, c).fireCount
}

// Stats returns fire counts keyed by market:type:threshold.
func (e *Evaluator) Stats() map[string]int {
	out := make(map[string]int, len(e.states))
	for key, s := range e.states {
		out[key] = s.fireCount
	}
	return out
}

// Reset clears all trigger state and histories.
func (e *Evaluator) Reset() {
	e.states = make(map[string]*triggerState)
	e.histories = make(map[string]*priceHistory)
}
