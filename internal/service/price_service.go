package service

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultThrottle is the minimum spacing between two fan-outs.
const DefaultThrottle = 100 * time.Millisecond

// BookReader exposes best-ask lookups of the order book store.
type BookReader interface {
	BestAsk(assetID string) (domain.PriceLevel, bool)
}

// WindowSource yields the live window of a timeframe.
type WindowSource interface {
	Current(tf domain.Timeframe, now time.Time) (domain.WindowView, bool)
}

// Dispatcher delivers a frame to the strategy workers and reports how many
// ticks were dropped.
type Dispatcher interface {
	Dispatch(frame domain.MarketFrame) int
}

// FrameObserver receives every frame that was fanned out. OnFrame runs on
// the coordinating goroutine and must not block.
type FrameObserver interface {
	OnFrame(frame domain.MarketFrame)
}

// DistributorConfig configures a PriceDistributor.
type DistributorConfig struct {
	Assets    []string
	Timeframe domain.Timeframe
	Throttle  time.Duration
}

// PriceDistributor turns book mutations into throttled market frames. It is
// a pure rate limiter: updates arriving inside the throttle interval are
// dropped and the next allowed fan-out reads the latest book state.
type PriceDistributor struct {
	cfg        DistributorConfig
	books      BookReader
	windows    WindowSource
	dispatcher Dispatcher
	observers  []FrameObserver
	limiter    *rate.Limiter
	logger     *slog.Logger

	fanouts   atomic.Int64
	throttled atomic.Int64
	dropped   atomic.Int64
}

// NewPriceDistributor creates a PriceDistributor. dispatcher may be nil in
// monitor mode.
func NewPriceDistributor(cfg DistributorConfig, books BookReader, windows WindowSource, dispatcher Dispatcher, logger *slog.Logger) *PriceDistributor {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.Timeframe15m
	}
	return &PriceDistributor{
		cfg:        cfg,
		books:      books,
		windows:    windows,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(rate.Every(cfg.Throttle), 1),
		logger:     logger.With(slog.String("component", "price_distributor")),
	}
}

// AddObserver registers a frame observer.
func (d *PriceDistributor) AddObserver(obs FrameObserver) {
	d.observers = append(d.observers, obs)
}

// OnUpdate is called after every book mutation. It reports whether a frame
// was fanned out.
func (d *PriceDistributor) OnUpdate(now time.Time) bool {
	if !d.limiter.AllowN(now, 1) {
		d.throttled.Add(1)
		return false
	}
	frame, ok := d.Frame(now)
	if !ok {
		return false
	}
	if d.dispatcher != nil {
		if n := d.dispatcher.Dispatch(frame); n > 0 {
			d.dropped.Add(int64(n))
			d.logger.Debug("ticks dropped on full mailboxes", slog.Int("count", n))
		}
	}
	for _, obs := range d.observers {
		obs.OnFrame(frame)
	}
	d.fanouts.Add(1)
	return true
}

// Frame builds the frame of the live window at now without throttling. An
// asset whose instruments are unresolved or whose ask side is empty gets
// invalid quotes.
func (d *PriceDistributor) Frame(now time.Time) (domain.MarketFrame, bool) {
	view, ok := d.windows.Current(d.cfg.Timeframe, now)
	if !ok {
		return domain.MarketFrame{}, false
	}
	frame := domain.MarketFrame{
		WindowStart:        view.Key.Start,
		Now:                now,
		IsStopBuyPhase:     view.Phase == domain.PhaseStopBuy,
		IsLiquidationPhase: view.Phase == domain.PhaseLiquidation,
		Quotes:             make(map[string]domain.AssetQuotes, len(d.cfg.Assets)),
	}
	for _, asset := range d.cfg.Assets {
		pair, ok := view.Assets[asset]
		if !ok {
			frame.Quotes[asset] = domain.AssetQuotes{}
			continue
		}
		frame.Quotes[asset] = domain.AssetQuotes{
			Up:   domain.QuoteFrom(d.books.BestAsk(pair.Up)),
			Down: domain.QuoteFrom(d.books.BestAsk(pair.Down)),
		}
	}
	return frame, true
}

// DistributorStats are the distributor's counters.
type DistributorStats struct {
	Fanouts      int64 `json:"fanouts"`
	Throttled    int64 `json:"throttled"`
	TicksDropped int64 `json:"ticks_dropped"`
}

// Stats returns a snapshot of the counters.
func (d *PriceDistributor) Stats() DistributorStats {
	return DistributorStats{
		Fanouts:      d.fanouts.Load(),
		Throttled:    d.throttled.Load(),
		TicksDropped: d.dropped.Load(),
	}
}
