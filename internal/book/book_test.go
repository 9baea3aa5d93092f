package book

import (
	"testing"

	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySnapshotReplacesSides(t *testing.T) {
	b := New(domain.VenueKalshi, "KXNBA-26JAN15-LAL")

	b.ApplySnapshot(
		[]domain.PriceLevel{{Price: 0.40, Size: 100}, {Price: 0.42, Size: 50}},
		[]domain.PriceLevel{{Price: 0.45, Size: 80}},
	)
	snap := b.Snapshot()
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)

	// A fresh snapshot wipes whatever was resting before.
	b.ApplySnapshot(
		[]domain.PriceLevel{{Price: 0.30, Size: 10}},
		[]domain.PriceLevel{{Price: 0.55, Size: 20}, {Price: 0.60, Size: 5}},
	)
	snap = b.Snapshot()
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, 0.30, snap.BestBid)
	assert.Equal(t, 0.55, snap.BestAsk)
}

func TestSnapshotOrdering(t *testing.T) {
	b := New(domain.VenuePolymarket, "tok-1")
	b.ApplySnapshot(
		[]domain.PriceLevel{{Price: 0.41, Size: 5}, {Price: 0.44, Size: 7}, {Price: 0.39, Size: 3}},
		[]domain.PriceLevel{{Price: 0.52, Size: 1}, {Price: 0.47, Size: 9}, {Price: 0.50, Size: 2}},
	)

	snap := b.Snapshot()
	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.44, Size: 7}, {Price: 0.41, Size: 5}, {Price: 0.39, Size: 3},
	}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.47, Size: 9}, {Price: 0.50, Size: 2}, {Price: 0.52, Size: 1},
	}, snap.Asks)
	assert.Equal(t, 0.44, snap.BestBid)
	assert.Equal(t, 0.47, snap.BestAsk)
	assert.InDelta(t, 0.455, snap.MidPrice, 1e-9)
	assert.InDelta(t, 0.03, snap.Spread, 1e-9)
}

func TestApplyDeltaUpsertAndRemove(t *testing.T) {
	b := New(domain.VenueKalshi, "KXNBA-26JAN15-LAL")
	b.ApplySnapshot(
		[]domain.PriceLevel{{Price: 0.40, Size: 100}},
		[]domain.PriceLevel{{Price: 0.45, Size: 80}},
	)

	b.ApplyDelta(SideBid, 0.41, 25)  // new level
	b.ApplyDelta(SideBid, 0.40, 60)  // resize
	b.ApplyDelta(SideAsk, 0.45, 0)   // zero removes
	b.ApplyDelta(SideAsk, 0.99, -5)  // negative removes (no-op on absent level)

	snap := b.Snapshot()
	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.41, Size: 25}, {Price: 0.40, Size: 60},
	}, snap.Bids)
	assert.Empty(t, snap.Asks)
	assert.Equal(t, 0.41, snap.BestBid)
	assert.Zero(t, snap.BestAsk)
	assert.Zero(t, snap.MidPrice)
}

func TestEmptyBookSnapshot(t *testing.T) {
	b := New(domain.VenueKalshi, "KXNBA-26JAN15-LAL")
	snap := b.Snapshot()
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
	assert.Zero(t, snap.BestBid)
	assert.Zero(t, snap.BestAsk)
	assert.Zero(t, snap.Spread)
}
