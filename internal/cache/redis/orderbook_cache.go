package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// snapshotTTL bounds how long a cached book survives without refresh. A book
// that stale is worse than no book.
const snapshotTTL = 5 * time.Minute

// OrderbookCache implements domain.OrderbookCache by storing each
// instrument's latest normalized snapshot as a JSON blob. Snapshots are
// immutable full views so a single SET per update suffices; processes
// without their own stream connection read current state from here.
//
// Key schema: book:{venue}:{instrument}
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookKey(venue domain.Venue, instrument string) string {
	return "book:" + string(venue) + ":" + instrument
}

// SetSnapshot stores the latest snapshot for an instrument, replacing any
// previous one.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snap.Instrument, err)
	}
	key := bookKey(snap.Venue, snap.Instrument)
	if err := oc.rdb.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot returns the latest cached snapshot for an instrument, or
// domain.ErrNotFound when none exists (or it expired).
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, venue domain.Venue, instrument string) (domain.OrderbookSnapshot, error) {
	key := bookKey(venue, instrument)
	data, err := oc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}

	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
