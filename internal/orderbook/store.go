// Package orderbook maintains per-instrument bid/ask ladders from feed
// snapshots and deltas.
package orderbook

import (
	"github.com/alanyoungcy/updownbot/internal/domain"
)

type book struct {
	bids *ladder
	asks *ladder
}

func newBook() *book {
	return &book{bids: newLadder(true), asks: newLadder(false)}
}

// Store holds one book per instrument. It has a single writer: the
// coordinating loop that consumes feed events. Callers on other goroutines
// must go through that loop.
type Store struct {
	books map[string]*book
}

// New creates an empty Store.
func New() *Store {
	return &Store{books: make(map[string]*book)}
}

func (s *Store) get(assetID string) *book {
	b, ok := s.books[assetID]
	if !ok {
		b = newBook()
		s.books[assetID] = b
	}
	return b
}

// ApplySnapshot replaces both ladders of the instrument wholesale.
func (s *Store) ApplySnapshot(snap domain.BookSnapshot) {
	b := s.get(snap.AssetID)
	b.bids.replace(snap.Bids)
	b.asks.replace(snap.Asks)
}

// ApplyDelta applies incremental level changes. A zero size removes the
// level (no-op when absent), anything else upserts it. Unknown instruments
// get an empty book first.
func (s *Store) ApplyDelta(delta domain.BookDelta) {
	b := s.get(delta.AssetID)
	for _, ch := range delta.Changes {
		switch ch.Side {
		case domain.SideBuy:
			b.bids.set(ch.Price, ch.Size)
		case domain.SideSell:
			b.asks.set(ch.Price, ch.Size)
		}
	}
}

// BestAsk returns the lowest ask, or false when the side is empty or the
// instrument is unknown.
func (s *Store) BestAsk(assetID string) (domain.PriceLevel, bool) {
	b, ok := s.books[assetID]
	if !ok {
		return domain.PriceLevel{}, false
	}
	return b.asks.best()
}

// BestBid returns the highest bid, or false when the side is empty or the
// instrument is unknown.
func (s *Store) BestBid(assetID string) (domain.PriceLevel, bool) {
	b, ok := s.books[assetID]
	if !ok {
		return domain.PriceLevel{}, false
	}
	return b.bids.best()
}

// Levels returns a best-first copy of one side of the book.
func (s *Store) Levels(assetID string, side domain.Side) []domain.PriceLevel {
	b, ok := s.books[assetID]
	if !ok {
		return nil
	}
	if side == domain.SideBuy {
		return b.bids.snapshot()
	}
	return b.asks.snapshot()
}

// Forget drops the books of retired instruments.
func (s *Store) Forget(assetIDs ...string) {
	for _, id := range assetIDs {
		delete(s.books, id)
	}
}

// Len returns the number of tracked instruments.
func (s *Store) Len() int { return len(s.books) }
