package domain

import "context"

// SignalBus is a minimal pub/sub abstraction used to fan signals out to
// sibling processes (emergency stop propagation, trigger fires). Implemented
// by the Redis cache package.
type SignalBus interface {
	// Publish sends a raw payload to the named channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of raw payloads. The subscription is closed
	// when ctx is cancelled; the returned channel is closed at that point.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StreamMessage is one entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// OrderbookCache stores the latest normalized snapshot per instrument so
// processes without their own stream connection can read current state.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, venue Venue, instrument string) (OrderbookSnapshot, error)
}
