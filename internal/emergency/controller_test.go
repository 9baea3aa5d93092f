package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stopFilePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".emergency_stop")
}

type fakeBus struct {
	published [][]byte
	incoming  chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{incoming: make(chan []byte, 8)}
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return b.incoming, nil
}

func TestTriggerPersistsStopFile(t *testing.T) {
	path := stopFilePath(t)
	c := NewController(path, testLogger())

	event, err := c.Trigger(context.Background(), ReasonRiskLimitBreach, "drawdown limit hit")
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.True(t, c.IsStopped())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk StopEvent
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, event.ID, onDisk.ID)
	assert.Equal(t, ReasonRiskLimitBreach, onDisk.Reason)
	assert.Equal(t, "drawdown limit hit", onDisk.Description)
}

func TestTriggerIsIdempotent(t *testing.T) {
	c := NewController(stopFilePath(t), testLogger())

	var callbackRuns int
	c.OnStop(func(StopEvent) { callbackRuns++ })

	first, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)
	second, err := c.Trigger(context.Background(), ReasonSystemError, "different reason")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, callbackRuns)
}

func TestRestartLoadsExistingStop(t *testing.T) {
	path := stopFilePath(t)

	c1 := NewController(path, testLogger())
	event, err := c1.Trigger(context.Background(), ReasonConnectionFailure, "venue unreachable")
	require.NoError(t, err)

	c2 := NewController(path, testLogger())
	assert.True(t, c2.IsStopped())
	require.NotNil(t, c2.CurrentEvent())
	assert.Equal(t, event.ID, c2.CurrentEvent().ID)
}

func TestTriggerRunsCollaboratorsAndRecordsCounts(t *testing.T) {
	path := stopFilePath(t)
	c := NewController(path, testLogger(),
		WithOrderCanceller(func(context.Context) (int, error) { return 3, nil }),
		WithStreamCloser(func(context.Context) (int, error) { return 2, nil }),
	)

	event, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)
	assert.Equal(t, 3, event.OrdersCancelled)
	assert.Equal(t, 2, event.WebsocketsClosed)

	// Final counts are re-persisted.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk StopEvent
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 3, onDisk.OrdersCancelled)
	assert.Equal(t, 2, onDisk.WebsocketsClosed)
}

func TestTriggerOptionsSkipCollaborators(t *testing.T) {
	path := stopFilePath(t)
	var cancels, closes int
	c := NewController(path, testLogger(),
		WithOrderCanceller(func(context.Context) (int, error) { cancels++; return 3, nil }),
		WithStreamCloser(func(context.Context) (int, error) { closes++; return 2, nil }),
	)

	event, err := c.Trigger(context.Background(), ReasonScheduledMaintenance, "rolling restart",
		WithoutOrderCancel(), WithoutStreamClose())
	require.NoError(t, err)

	// The stop still trips and persists; the side effects are skipped.
	assert.Zero(t, cancels)
	assert.Zero(t, closes)
	assert.Zero(t, event.OrdersCancelled)
	assert.Zero(t, event.WebsocketsClosed)
	assert.True(t, c.IsStopped())
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestTriggerCollaboratorFailureStillStops(t *testing.T) {
	c := NewController(stopFilePath(t), testLogger(),
		WithOrderCanceller(func(context.Context) (int, error) { return 0, errors.New("venue down") }),
	)

	_, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)
	assert.True(t, c.IsStopped())
}

func TestStopCallbackPanicIsolated(t *testing.T) {
	c := NewController(stopFilePath(t), testLogger())

	var second bool
	c.OnStop(func(StopEvent) { panic("boom") })
	c.OnStop(func(StopEvent) { second = true })

	_, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)
	assert.True(t, second)
}

func TestResumeClearsStateAndRunsCallbacks(t *testing.T) {
	path := stopFilePath(t)
	c := NewController(path, testLogger())

	var resumed bool
	c.OnResume(func() { resumed = true })

	_, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)

	require.NoError(t, c.Resume(context.Background(), "oncall"))
	assert.False(t, c.IsStopped())
	assert.True(t, resumed)
	assert.NoFileExists(t, path)

	// Resuming a running system is a no-op.
	resumed = false
	require.NoError(t, c.Resume(context.Background(), "oncall"))
	assert.False(t, resumed)
}

func TestCheckAndRaiseWrapsSentinel(t *testing.T) {
	c := NewController(stopFilePath(t), testLogger())
	require.NoError(t, c.CheckAndRaise())

	_, err := c.Trigger(context.Background(), ReasonMarketEmergency, "flash crash")
	require.NoError(t, err)

	err = c.CheckAndRaise()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmergencyStop)
	assert.Contains(t, err.Error(), "flash crash")
}

func TestTriggerPublishesStopMessage(t *testing.T) {
	bus := newFakeBus()
	c := NewController(stopFilePath(t), testLogger(), WithSignalBus(bus))

	event, err := c.Trigger(context.Background(), ReasonUserInitiated, "")
	require.NoError(t, err)
	require.Len(t, bus.published, 1)

	var msg busMessage
	require.NoError(t, json.Unmarshal(bus.published[0], &msg))
	assert.Equal(t, "stop", msg.Action)
	require.NotNil(t, msg.Event)
	assert.Equal(t, event.ID, msg.Event.ID)
}

func TestListenMirrorsRemoteStopAndResume(t *testing.T) {
	bus := newFakeBus()
	c := NewController(stopFilePath(t), testLogger(), WithSignalBus(bus))

	stopped := make(chan StopEvent, 1)
	resumed := make(chan struct{}, 1)
	c.OnStop(func(ev StopEvent) { stopped <- ev })
	c.OnResume(func() { resumed <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Listen(ctx)
	}()

	remote := NewStopEvent(ReasonAgentError, "remote failure", "agent-7")
	payload, err := json.Marshal(busMessage{Action: "stop", Event: &remote})
	require.NoError(t, err)
	bus.incoming <- payload

	ev := <-stopped
	assert.Equal(t, remote.ID, ev.ID)
	assert.True(t, c.IsStopped())

	payload, err = json.Marshal(busMessage{Action: "resume", ResumedBy: "oncall"})
	require.NoError(t, err)
	bus.incoming <- payload

	<-resumed
	assert.False(t, c.IsStopped())

	cancel()
	<-done
}
