package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
	"github.com/alanyoungcy/marketgate/internal/emergency"
	"github.com/alanyoungcy/marketgate/internal/sentinel"
)

// Event types understood by the notifier filter.
const (
	EventEmergencyStop = "emergency_stop"
	EventResume        = "resume"
	EventTriggerFired  = "trigger_fired"
	EventArbDetected   = "arb_detected"
	EventStreamDown    = "stream_down"
)

// FormatAlert renders a sentinel alert as a notification title and body.
func FormatAlert(a sentinel.Alert) (title, message string) {
	title = fmt.Sprintf("Trigger fired: %s", a.MarketID)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", a.Trigger.Describe())
	fmt.Fprintf(&b, "Venue: %s\n", a.Venue)
	fmt.Fprintf(&b, "Value: %s (threshold %s)\n", a.Value, a.Trigger.Threshold)
	if a.Trigger.SuggestedSide != "" {
		fmt.Fprintf(&b, "Suggested side: %s\n", a.Trigger.SuggestedSide)
	}
	fmt.Fprintf(&b, "Fire count: %d\n", a.FireCount)
	fmt.Fprintf(&b, "At: %s", a.FiredAt.UTC().Format(time.RFC3339))
	return title, b.String()
}

// FormatOpportunity renders a profitable arbitrage opportunity.
func FormatOpportunity(o arbitrage.Opportunity) (title, message string) {
	title = fmt.Sprintf("Arb detected: %s", o.PairID)

	var b strings.Builder
	fmt.Fprintf(&b, "Strategy: %s\n", o.BestStrategy())
	fmt.Fprintf(&b, "Profit: $%.4f per $1 payout\n", o.MaxProfit())
	fmt.Fprintf(&b, "Poly YES %.3f / NO %.3f\n", o.PolyYesPrice, o.PolyNoPrice)
	fmt.Fprintf(&b, "Kalshi YES %.3f / NO %.3f\n", o.KalshiYesPrice, o.KalshiNoPrice)
	fmt.Fprintf(&b, "At: %s", o.Timestamp.UTC().Format(time.RFC3339))
	return title, b.String()
}

// FormatStopEvent renders an emergency stop event.
func FormatStopEvent(ev emergency.StopEvent) (title, message string) {
	title = "EMERGENCY STOP"

	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
	if ev.Description != "" {
		fmt.Fprintf(&b, "%s\n", ev.Description)
	}
	fmt.Fprintf(&b, "Orders cancelled: %d\n", ev.OrdersCancelled)
	fmt.Fprintf(&b, "Streams closed: %d\n", ev.WebsocketsClosed)
	fmt.Fprintf(&b, "Event: %s\n", ev.ID)
	fmt.Fprintf(&b, "At: %s", ev.Timestamp.UTC().Format(time.RFC3339))
	return title, b.String()
}
