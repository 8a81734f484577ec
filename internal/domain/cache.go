package domain

import (
	"context"
	"time"
)

// CachedQuote is the last best ask published for one asset/direction.
type CachedQuote struct {
	Asset       string
	Direction   Direction
	WindowStart int64
	Price       string
	Size        string
	Time        time.Time
}

// QuoteCache mirrors the latest quotes for external readers.
type QuoteCache interface {
	SetFrame(ctx context.Context, frame MarketFrame) error
	Get(ctx context.Context, asset string, dir Direction) (CachedQuote, error)
}

// EventBus publishes worker events to external subscribers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
