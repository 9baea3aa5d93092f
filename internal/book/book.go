// Package book implements per-instrument order-book reconstruction from
// snapshot and delta updates. A Book is owned exclusively by one venue stream
// client; consumers only ever see the immutable sorted snapshots it emits.
package book

import (
	"time"

	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/tidwall/btree"
)

// Side selects the bid or ask side of a book.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// Book holds both sides of one instrument's order book as ordered price→size
// maps. A size of zero removes the level. Not safe for concurrent use; the
// owning stream client serializes all mutations on its read loop.
type Book struct {
	venue      domain.Venue
	instrument string
	bids       btree.Map[float64, float64]
	asks       btree.Map[float64, float64]
}

// New creates an empty book for the given venue and instrument.
func New(venue domain.Venue, instrument string) *Book {
	return &Book{venue: venue, instrument: instrument}
}

// ApplySnapshot replaces both sides of the book with the given levels.
// Levels with size <= 0 are ignored.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel) {
	b.bids.Clear()
	b.asks.Clear()
	for _, l := range bids {
		if l.Size > 0 {
			b.bids.Set(l.Price, l.Size)
		}
	}
	for _, l := range asks {
		if l.Size > 0 {
			b.asks.Set(l.Price, l.Size)
		}
	}
}

// ApplyDelta upserts a single price level, removing it when size is zero or
// negative.
func (b *Book) ApplyDelta(side Side, price, size float64) {
	m := &b.bids
	if side == SideAsk {
		m = &b.asks
	}
	if size <= 0 {
		m.Delete(price)
		return
	}
	m.Set(price, size)
}

// Len returns the number of resting levels on each side.
func (b *Book) Len() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Snapshot materializes a sorted, immutable view of the book: bids descending
// from the best bid, asks ascending from the best ask.
func (b *Book) Snapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Venue:      b.venue,
		Instrument: b.instrument,
		Bids:       make([]domain.PriceLevel, 0, b.bids.Len()),
		Asks:       make([]domain.PriceLevel, 0, b.asks.Len()),
		Timestamp:  time.Now(),
	}

	b.bids.Reverse(func(price, size float64) bool {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: price, Size: size})
		return true
	})
	b.asks.Scan(func(price, size float64) bool {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: price, Size: size})
		return true
	})

	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
		snap.Spread = snap.BestAsk - snap.BestBid
	}

	return snap
}
