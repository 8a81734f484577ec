package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one ladder of a book. BUY levels are bids, SELL levels are asks.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSnapshot is a full replacement of both ladders for one instrument.
type BookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// LevelChange is an incremental orderbook level update.
type LevelChange struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal // zero removes the level
}

// BookDelta groups the level changes of one feed message for one instrument.
type BookDelta struct {
	AssetID   string
	Changes   []LevelChange
	Timestamp time.Time
}

// Quote is a best-ask observation. Valid is false when the ask side is empty
// or the instrument is unknown, in which case Price and Size are zero.
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Valid bool
}

// QuoteFrom converts an optional best level into a Quote.
func QuoteFrom(lvl PriceLevel, ok bool) Quote {
	if !ok {
		return Quote{}
	}
	return Quote{Price: lvl.Price, Size: lvl.Size, Valid: true}
}
