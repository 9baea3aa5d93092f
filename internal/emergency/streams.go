package emergency

import (
	"context"
	"log/slog"
	"sync"
)

// Stoppable is anything with a synchronous Stop, which both venue stream
// clients satisfy.
type Stoppable interface {
	Stop()
}

// StreamRegistry tracks live stream clients so an emergency stop can tear
// them all down and report how many it closed.
type StreamRegistry struct {
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]Stoppable
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry(logger *slog.Logger) *StreamRegistry {
	return &StreamRegistry{
		logger:  logger.With(slog.String("component", "stream_registry")),
		streams: make(map[string]Stoppable),
	}
}

// Register adds a stream under a unique name, replacing any previous entry.
func (r *StreamRegistry) Register(name string, s Stoppable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[name] = s
}

// Deregister removes a stream without stopping it.
func (r *StreamRegistry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, name)
}

// CloseAll stops every registered stream and empties the registry,
// returning the number closed. Stop is expected to be idempotent.
func (r *StreamRegistry) CloseAll(_ context.Context) (int, error) {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]Stoppable)
	r.mu.Unlock()

	for name, s := range streams {
		s.Stop()
		r.logger.Info("stream closed", slog.String("stream", name))
	}
	return len(streams), nil
}
