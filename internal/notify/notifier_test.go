package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
	"github.com/alanyoungcy/marketgate/internal/sentinel"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEventTypes(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventEmergencyStop}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventArbDetected, "arb", "body"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), EventEmergencyStop, "stop", "body"))
	assert.Equal(t, []string{"stop"}, s.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventTriggerFired, "fired", "body"))
	assert.Len(t, s.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("unreachable")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestFormatAlert(t *testing.T) {
	cond := sentinel.NewTriggerCondition(sentinel.TriggerPriceBelow, decimal.NewFromFloat(0.30), "BUY")
	title, msg := FormatAlert(sentinel.Alert{
		MarketID:  "MKT-1",
		Venue:     "kalshi",
		Trigger:   cond,
		Value:     decimal.NewFromFloat(0.28),
		FiredAt:   time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC),
		FireCount: 2,
	})
	assert.Contains(t, title, "MKT-1")
	assert.Contains(t, msg, "0.28")
	assert.Contains(t, msg, "BUY")
}

func TestFormatOpportunity(t *testing.T) {
	title, msg := FormatOpportunity(arbitrage.Opportunity{
		PairID:                "pair-1",
		Timestamp:             time.Now(),
		ProfitPolyYesKalshiNo: 0.03,
		PolyYesPrice:          0.40,
		KalshiNoPrice:         0.55,
	})
	assert.Contains(t, title, "pair-1")
	assert.Contains(t, msg, "Buy Poly YES / Kalshi NO")
	assert.Contains(t, msg, "0.0300")
}
