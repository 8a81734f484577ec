package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ladder is one side of a book kept sorted best-first, so the best level is
// always levels[0]. Bids sort descending, asks ascending.
type ladder struct {
	desc   bool
	levels []domain.PriceLevel
}

func newLadder(desc bool) *ladder { return &ladder{desc: desc} }

// search returns the index where price is or would be inserted.
func (l *ladder) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		c := l.levels[i].Price.Cmp(price)
		if l.desc {
			return c <= 0
		}
		return c >= 0
	})
	return i, i < len(l.levels) && l.levels[i].Price.Equal(price)
}

func (l *ladder) set(price, size decimal.Decimal) {
	i, found := l.search(price)
	if size.IsZero() {
		if found {
			l.levels = append(l.levels[:i], l.levels[i+1:]...)
		}
		return
	}
	if found {
		l.levels[i].Size = size
		return
	}
	l.levels = append(l.levels, domain.PriceLevel{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = domain.PriceLevel{Price: price, Size: size}
}

// replace rebuilds the ladder from an unordered level list. Duplicate prices
// keep the last size; zero sizes are skipped.
func (l *ladder) replace(levels []domain.PriceLevel) {
	l.levels = l.levels[:0]
	for _, lvl := range levels {
		l.set(lvl.Price, lvl.Size)
	}
}

func (l *ladder) best() (domain.PriceLevel, bool) {
	if len(l.levels) == 0 {
		return domain.PriceLevel{}, false
	}
	return l.levels[0], true
}

func (l *ladder) snapshot() []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(l.levels))
	copy(out, l.levels)
	return out
}
