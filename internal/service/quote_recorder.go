package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// QuoteRecorder mirrors frames into a QuoteCache on its own goroutine. Only
// the newest pending frame is kept, so a slow cache never backs up the
// coordinating loop.
type QuoteRecorder struct {
	cache   domain.QuoteCache
	latest  chan domain.MarketFrame
	timeout time.Duration
	logger  *slog.Logger
}

// NewQuoteRecorder creates a QuoteRecorder writing to cache.
func NewQuoteRecorder(cache domain.QuoteCache, logger *slog.Logger) *QuoteRecorder {
	return &QuoteRecorder{
		cache:   cache,
		latest:  make(chan domain.MarketFrame, 1),
		timeout: 2 * time.Second,
		logger:  logger.With(slog.String("component", "quote_recorder")),
	}
}

// OnFrame replaces any frame still waiting to be written.
func (r *QuoteRecorder) OnFrame(frame domain.MarketFrame) {
	for {
		select {
		case r.latest <- frame:
			return
		default:
		}
		select {
		case <-r.latest:
		default:
		}
	}
}

// Run writes frames until ctx is cancelled.
func (r *QuoteRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-r.latest:
			wctx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := r.cache.SetFrame(wctx, frame); err != nil {
				r.logger.Warn("quote cache write failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
