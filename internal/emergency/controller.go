package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// CancelFunc cancels all resting orders, returning how many were cancelled.
type CancelFunc func(ctx context.Context) (int, error)

// CloseStreamsFunc tears down stream connections, returning how many closed.
type CloseStreamsFunc func(ctx context.Context) (int, error)

// StopCallback runs when the switch trips, locally or remotely.
type StopCallback func(StopEvent)

// ResumeCallback runs when the system resumes.
type ResumeCallback func()

// EventStore persists stop events for audit, best effort.
type EventStore interface {
	SaveStopEvent(ctx context.Context, event StopEvent) error
}

// Controller owns emergency stop state. The stop file is the source of
// truth: its presence means stopped, and it survives process restarts. A
// signal bus, order canceller, stream registry, and audit store are all
// optional; a controller with none of them still stops locally.
type Controller struct {
	stopFile string
	logger   *slog.Logger

	bus          domain.SignalBus
	cancelOrders CancelFunc
	closeStreams CloseStreamsFunc
	store        EventStore

	mu              sync.Mutex
	stopped         bool
	current         *StopEvent
	stopCallbacks   []StopCallback
	resumeCallbacks []ResumeCallback
}

// Option configures optional collaborators.
type Option func(*Controller)

// WithSignalBus propagates stop/resume across processes.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithOrderCanceller cancels resting orders on stop.
func WithOrderCanceller(fn CancelFunc) Option {
	return func(c *Controller) { c.cancelOrders = fn }
}

// WithStreamCloser tears down stream connections on stop.
func WithStreamCloser(fn CloseStreamsFunc) Option {
	return func(c *Controller) { c.closeStreams = fn }
}

// WithEventStore records stop events to durable audit storage.
func WithEventStore(store EventStore) Option {
	return func(c *Controller) { c.store = store }
}

// triggerSettings control which best-effort side effects run on one stop.
type triggerSettings struct {
	cancelOrders bool
	closeStreams bool
}

// TriggerOption adjusts a single Trigger call. By default a stop cancels
// resting orders and closes streams.
type TriggerOption func(*triggerSettings)

// WithoutOrderCancel leaves resting orders alone for this stop.
func WithoutOrderCancel() TriggerOption {
	return func(s *triggerSettings) { s.cancelOrders = false }
}

// WithoutStreamClose leaves stream connections open for this stop.
func WithoutStreamClose() TriggerOption {
	return func(s *triggerSettings) { s.closeStreams = false }
}

// NewController creates a controller using stopFile as durable state. An
// existing stop file is loaded so a restarted process stays stopped.
func NewController(stopFile string, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		stopFile: stopFile,
		logger:   logger.With(slog.String("component", "emergency")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loadState()
	return c
}

func (c *Controller) loadState() {
	data, err := os.ReadFile(c.stopFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Error("failed to read stop file", slog.Any("error", err))
		}
		return
	}

	var event StopEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// An unreadable stop file still means stopped; presence is the contract.
		c.logger.Error("failed to decode stop file", slog.Any("error", err))
		c.stopped = true
		return
	}
	c.stopped = true
	c.current = &event
	c.logger.Warn("loaded existing emergency stop state",
		slog.String("event_id", event.ID),
		slog.String("reason", string(event.Reason)))
}

// saveState writes the stop file atomically: temp file in the same
// directory, fsync, rename.
func (c *Controller) saveState(event StopEvent) error {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("emergency: encode stop event: %w", err)
	}

	dir := filepath.Dir(c.stopFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("emergency: create stop dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".stop-*")
	if err != nil {
		return fmt.Errorf("emergency: create temp stop file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("emergency: write stop file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("emergency: sync stop file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("emergency: close stop file: %w", err)
	}
	if err := os.Rename(tmpName, c.stopFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("emergency: install stop file: %w", err)
	}
	return nil
}

func (c *Controller) clearState() {
	if err := os.Remove(c.stopFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Error("failed to remove stop file", slog.Any("error", err))
	}
}

// IsStopped reports whether the switch is tripped. The stop file is
// authoritative so a sibling process's stop is visible here too.
func (c *Controller) IsStopped() bool {
	if _, err := os.Stat(c.stopFile); err == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// CurrentEvent returns the active stop event, nil when running.
func (c *Controller) CurrentEvent() *StopEvent {
	if !c.IsStopped() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	ev := *c.current
	return &ev
}

// OnStop registers a callback run when the switch trips. Callbacks run in
// registration order; a panic in one does not prevent the rest.
func (c *Controller) OnStop(fn StopCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCallbacks = append(c.stopCallbacks, fn)
}

// OnResume registers a callback run when the system resumes.
func (c *Controller) OnResume(fn ResumeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeCallbacks = append(c.resumeCallbacks, fn)
}

// Trigger trips the switch. Idempotent: when already stopped it returns the
// existing event without re-running side effects. The stop file is persisted
// before any best-effort side effect so a crash mid-trigger still leaves the
// system stopped. Options can skip order cancellation or stream teardown for
// this call; both run by default.
func (c *Controller) Trigger(ctx context.Context, reason StopReason, description string, opts ...TriggerOption) (StopEvent, error) {
	set := triggerSettings{cancelOrders: true, closeStreams: true}
	for _, opt := range opts {
		opt(&set)
	}

	c.mu.Lock()
	if c.stopped {
		existing := c.current
		c.mu.Unlock()
		c.logger.Warn("emergency stop already active")
		if existing != nil {
			return *existing, nil
		}
		return StopEvent{}, nil
	}

	event := NewStopEvent(reason, description, "user")
	c.stopped = true
	c.current = &event
	stopFns := append([]StopCallback(nil), c.stopCallbacks...)
	c.mu.Unlock()

	c.logger.Error("EMERGENCY STOP TRIGGERED",
		slog.String("event_id", event.ID),
		slog.String("reason", string(reason)),
		slog.String("description", event.Description))

	if err := c.saveState(event); err != nil {
		// Stopped in memory regardless; losing durability is the lesser failure.
		c.logger.Error("failed to persist stop state", slog.Any("error", err))
	}

	c.publish(ctx, busMessage{Action: "stop", Event: &event})

	if set.cancelOrders && c.cancelOrders != nil {
		n, err := c.cancelOrders(ctx)
		if err != nil {
			c.logger.Error("failed to cancel orders", slog.Any("error", err))
		}
		event.OrdersCancelled = n
	}
	if set.closeStreams && c.closeStreams != nil {
		n, err := c.closeStreams(ctx)
		if err != nil {
			c.logger.Error("failed to close streams", slog.Any("error", err))
		}
		event.WebsocketsClosed = n
	}

	for _, fn := range stopFns {
		c.safeStopCallback(fn, event)
	}

	// Re-persist with final counts.
	if err := c.saveState(event); err != nil {
		c.logger.Error("failed to persist stop state", slog.Any("error", err))
	}

	c.mu.Lock()
	c.current = &event
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveStopEvent(ctx, event); err != nil {
			c.logger.Error("failed to record stop event", slog.Any("error", err))
		}
	}

	return event, nil
}

// Resume clears the switch. No-op when already running.
func (c *Controller) Resume(ctx context.Context, resumedBy string) error {
	if resumedBy == "" {
		resumedBy = "user"
	}

	c.mu.Lock()
	if !c.stopped {
		c.mu.Unlock()
		c.logger.Info("system is not stopped, nothing to resume")
		return nil
	}
	c.stopped = false
	if c.current != nil {
		now := nowUTC()
		c.current.ResumedAt = &now
		c.current.ResumedBy = resumedBy
	}
	resumed := c.current
	resumeFns := append([]ResumeCallback(nil), c.resumeCallbacks...)
	c.mu.Unlock()

	c.logger.Info("resuming from emergency stop", slog.String("resumed_by", resumedBy))
	c.clearState()

	c.publish(ctx, busMessage{Action: "resume", ResumedBy: resumedBy})

	for _, fn := range resumeFns {
		c.safeResumeCallback(fn)
	}

	if c.store != nil && resumed != nil {
		if err := c.store.SaveStopEvent(ctx, *resumed); err != nil {
			c.logger.Error("failed to record resume", slog.Any("error", err))
		}
	}
	return nil
}

// CheckAndRaise returns an error wrapping domain.ErrEmergencyStop when the
// switch is tripped, nil otherwise. Call before any risky operation.
func (c *Controller) CheckAndRaise() error {
	if !c.IsStopped() {
		return nil
	}
	desc := "unknown"
	if ev := c.CurrentEvent(); ev != nil {
		desc = ev.Description
	}
	return fmt.Errorf("emergency: %w: %s", domain.ErrEmergencyStop, desc)
}

// Listen mirrors remote stop/resume signals into local state. Blocks until
// ctx is cancelled or the subscription fails.
func (c *Controller) Listen(ctx context.Context) error {
	if c.bus == nil {
		c.logger.Warn("no signal bus, remote stop signals will not be received")
		return nil
	}

	msgs, err := c.bus.Subscribe(ctx, StopChannel)
	if err != nil {
		return fmt.Errorf("emergency: subscribe %s: %w", StopChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handleRemote(payload)
		}
	}
}

func (c *Controller) handleRemote(payload []byte) {
	var msg busMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("malformed stop channel message", slog.Any("error", err))
		return
	}

	switch msg.Action {
	case "stop":
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.stopped = true
		event := StopEvent{}
		if msg.Event != nil {
			event = *msg.Event
		}
		c.current = &event
		stopFns := append([]StopCallback(nil), c.stopCallbacks...)
		c.mu.Unlock()

		c.logger.Warn("received remote emergency stop signal",
			slog.String("event_id", event.ID))
		for _, fn := range stopFns {
			c.safeStopCallback(fn, event)
		}

	case "resume":
		c.mu.Lock()
		if !c.stopped {
			c.mu.Unlock()
			return
		}
		c.stopped = false
		resumeFns := append([]ResumeCallback(nil), c.resumeCallbacks...)
		c.mu.Unlock()

		c.logger.Info("received remote resume signal",
			slog.String("resumed_by", msg.ResumedBy))
		c.clearState()
		for _, fn := range resumeFns {
			c.safeResumeCallback(fn)
		}

	default:
		c.logger.Warn("unknown stop channel action", slog.String("action", msg.Action))
	}
}

func (c *Controller) publish(ctx context.Context, msg busMessage) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode stop channel message", slog.Any("error", err))
		return
	}
	if err := c.bus.Publish(ctx, StopChannel, payload); err != nil {
		c.logger.Error("failed to publish stop channel message", slog.Any("error", err))
	}
}

func (c *Controller) safeStopCallback(fn StopCallback, event StopEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stop callback panicked", slog.Any("panic", r))
		}
	}()
	fn(event)
}

func (c *Controller) safeResumeCallback(fn ResumeCallback) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("resume callback panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
