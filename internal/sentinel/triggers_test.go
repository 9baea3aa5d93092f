package sentinel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(start time.Time) (*Evaluator, *time.Time) {
	clock := start
	e := NewEvaluator()
	e.now = func() time.Time { return clock }
	return e, &clock
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func priceState(marketID string, bid, ask float64) MarketState {
	return MarketState{
		MarketID: marketID,
		BestBid:  dec(bid),
		BestAsk:  dec(ask),
		Spread:   dec(ask - bid),
	}
}

func TestPriceBelowFiresAndDebounces(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerPriceBelow, dec(0.30), "BUY")

	fired, value := e.Evaluate(cond, priceState("m1", 0.28, 0.32))
	require.True(t, fired)
	assert.True(t, value.Equal(dec(0.28)))
	e.RecordFire("m1", cond, value)

	// Inside the 60s debounce window nothing fires.
	*clock = clock.Add(30 * time.Second)
	fired, _ = e.Evaluate(cond, priceState("m1", 0.25, 0.29))
	assert.False(t, fired)
	assert.False(t, e.CanFire("m1", cond))

	*clock = clock.Add(31 * time.Second)
	assert.True(t, e.CanFire("m1", cond))
}

func TestPriceBelowHysteresisReArm(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerPriceBelow, dec(0.30), "BUY")
	cond.Hysteresis = dec(0.1) // re-arm band: rise above 0.33

	fired, value := e.Evaluate(cond, priceState("m1", 0.29, 0.31))
	require.True(t, fired)
	e.RecordFire("m1", cond, value)

	// Past debounce but still below the hysteresis band: stays disarmed.
	*clock = clock.Add(2 * time.Minute)
	fired, _ = e.Evaluate(cond, priceState("m1", 0.31, 0.33))
	assert.False(t, fired)

	// Rising above threshold*(1+hysteresis) = 0.33 re-arms.
	fired, _ = e.Evaluate(cond, priceState("m1", 0.34, 0.36))
	assert.False(t, fired) // re-armed but price no longer below threshold

	fired, _ = e.Evaluate(cond, priceState("m1", 0.29, 0.31))
	assert.True(t, fired)
}

func TestPriceAboveHysteresisReArm(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerPriceAbove, dec(0.70), "SELL")
	cond.Hysteresis = dec(0.1) // re-arm band: drop below 0.63

	fired, value := e.Evaluate(cond, priceState("m1", 0.69, 0.71))
	require.True(t, fired)
	e.RecordFire("m1", cond, value)

	*clock = clock.Add(2 * time.Minute)
	fired, _ = e.Evaluate(cond, priceState("m1", 0.66, 0.68))
	assert.False(t, fired)

	fired, _ = e.Evaluate(cond, priceState("m1", 0.60, 0.62))
	assert.False(t, fired)

	fired, _ = e.Evaluate(cond, priceState("m1", 0.69, 0.71))
	assert.True(t, fired)
}

func TestSpreadTriggers(t *testing.T) {
	e, _ := newTestEvaluator(time.Unix(1_700_000_000, 0))

	above := NewTriggerCondition(TriggerSpreadAbove, dec(0.05), "")
	fired, _ := e.Evaluate(above, priceState("m1", 0.40, 0.48))
	assert.True(t, fired)
	fired, _ = e.Evaluate(above, priceState("m2", 0.40, 0.42))
	assert.False(t, fired)

	below := NewTriggerCondition(TriggerSpreadBelow, dec(0.02), "")
	fired, _ = e.Evaluate(below, priceState("m3", 0.40, 0.41))
	assert.True(t, fired)
}

func TestVolumeSpikeZeroBaselineNeverFires(t *testing.T) {
	e, _ := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerVolumeSpike, dec(3), "")
	cond.TimeWindow = 5 * time.Minute

	fired, _ := e.Evaluate(cond, MarketState{MarketID: "m1"})
	assert.False(t, fired)
}

func TestVolumeSpikeFiresOnRatio(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerVolumeSpike, dec(3), "")
	cond.TimeWindow = 5 * time.Minute

	// Baseline: small steady volume over the past hour.
	for i := 0; i < 10; i++ {
		v := dec(10)
		e.UpdateHistory("m1", nil, &v)
		*clock = clock.Add(5 * time.Minute)
	}

	// Burst inside the recent window.
	for i := 0; i < 5; i++ {
		v := dec(100)
		e.UpdateHistory("m1", nil, &v)
		*clock = clock.Add(30 * time.Second)
	}

	fired, ratio := e.Evaluate(cond, MarketState{MarketID: "m1"})
	assert.True(t, fired)
	assert.True(t, ratio.GreaterThan(dec(3)), "ratio %s", ratio)
}

func TestImbalanceTriggers(t *testing.T) {
	e, _ := newTestEvaluator(time.Unix(1_700_000_000, 0))

	buy := NewTriggerCondition(TriggerImbalanceBuy, dec(0.5), "BUY")
	fired, _ := e.Evaluate(buy, MarketState{MarketID: "m1", Imbalance: 0.62})
	assert.True(t, fired)
	fired, _ = e.Evaluate(buy, MarketState{MarketID: "m1", Imbalance: 0.40})
	assert.False(t, fired)

	sell := NewTriggerCondition(TriggerImbalanceSell, dec(0.5), "SELL")
	fired, _ = e.Evaluate(sell, MarketState{MarketID: "m2", Imbalance: -0.55})
	assert.True(t, fired)
	fired, _ = e.Evaluate(sell, MarketState{MarketID: "m2", Imbalance: -0.20})
	assert.False(t, fired)
}

func TestMarketReopenFiresOnTransitionOnly(t *testing.T) {
	e, _ := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerMarketReopen, decimal.Zero, "")

	fired, _ := e.Evaluate(cond, MarketState{MarketID: "m1", PrevStatus: "halted", Status: "active"})
	assert.True(t, fired)

	// Already active, no transition.
	fired, _ = e.Evaluate(cond, MarketState{MarketID: "m1", PrevStatus: "active", Status: "active"})
	assert.False(t, fired)

	// No prior status observed.
	fired, _ = e.Evaluate(cond, MarketState{MarketID: "m1", PrevStatus: "", Status: "active"})
	assert.False(t, fired)
}

func TestNewsCorrelationPriceMove(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerNewsCorrelation, dec(0.10), "")
	cond.TimeWindow = 10 * time.Minute

	p1 := dec(0.50)
	e.UpdateHistory("m1", &p1, nil)
	*clock = clock.Add(time.Minute)
	p2 := dec(0.44) // -12%
	e.UpdateHistory("m1", &p2, nil)

	fired, change := e.Evaluate(cond, MarketState{MarketID: "m1"})
	assert.True(t, fired)
	assert.True(t, change.LessThan(decimal.Zero))
}

func TestHistoryRetentionWindow(t *testing.T) {
	e, clock := newTestEvaluator(time.Unix(1_700_000_000, 0))

	v := dec(50)
	e.UpdateHistory("m1", nil, &v)
	*clock = clock.Add(3 * time.Hour)
	// Adding a fresh point trims anything older than two hours.
	v2 := dec(10)
	e.UpdateHistory("m1", nil, &v2)

	h := e.history("m1")
	require.Len(t, h.volumes, 1)
	assert.True(t, h.volumes[0].value.Equal(dec(10)))
}

func TestResetClearsState(t *testing.T) {
	e, _ := newTestEvaluator(time.Unix(1_700_000_000, 0))
	cond := NewTriggerCondition(TriggerPriceBelow, dec(0.30), "BUY")

	fired, value := e.Evaluate(cond, priceState("m1", 0.28, 0.32))
	require.True(t, fired)
	e.RecordFire("m1", cond, value)
	require.Equal(t, 1, e.FireCount("m1", cond))

	e.Reset()
	assert.Equal(t, 0, e.FireCount("m1", cond))
	assert.Empty(t, e.Stats())
}
