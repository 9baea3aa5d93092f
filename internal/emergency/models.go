// Package emergency implements the distributed kill-switch: a durable stop
// file for crash-safe local state, a Redis channel for cross-process
// propagation, and collaborators that cancel resting orders and tear down
// stream connections when the switch trips.
package emergency

import (
	"time"

	"github.com/google/uuid"
)

// StopChannel is the pub/sub channel stop and resume signals travel on.
const StopChannel = "marketgate:emergency_stop"

// StopReason classifies why the switch tripped.
type StopReason string

const (
	ReasonUserInitiated        StopReason = "user_initiated"
	ReasonRiskLimitBreach      StopReason = "risk_limit_breach"
	ReasonAgentError           StopReason = "agent_error"
	ReasonMarketEmergency      StopReason = "market_emergency"
	ReasonSystemError          StopReason = "system_error"
	ReasonConnectionFailure    StopReason = "connection_failure"
	ReasonScheduledMaintenance StopReason = "scheduled_maintenance"
)

// StopEvent is one emergency stop occurrence. It is the on-disk stop file
// format and the payload published on StopChannel.
type StopEvent struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Reason      StopReason `json:"reason"`
	Description string     `json:"description"`
	TriggeredBy string     `json:"triggered_by"`

	AgentsStopped    int `json:"agents_stopped"`
	OrdersCancelled  int `json:"orders_cancelled"`
	WebsocketsClosed int `json:"websockets_closed"`

	AutoResumeAt *time.Time `json:"auto_resume_at"`
	ResumedAt    *time.Time `json:"resumed_at"`
	ResumedBy    string     `json:"resumed_by,omitempty"`
}

// NewStopEvent creates an event with a fresh id and the current time.
func NewStopEvent(reason StopReason, description, triggeredBy string) StopEvent {
	if description == "" {
		description = "Emergency stop: " + string(reason)
	}
	if triggeredBy == "" {
		triggeredBy = "user"
	}
	return StopEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Reason:      reason,
		Description: description,
		TriggeredBy: triggeredBy,
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// busMessage is the wire envelope on StopChannel.
type busMessage struct {
	Action    string     `json:"action"` // "stop" or "resume"
	Event     *StopEvent `json:"event,omitempty"`
	ResumedBy string     `json:"resumed_by,omitempty"`
}
