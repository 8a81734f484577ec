package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/ledger"
	"github.com/alanyoungcy/updownbot/internal/orderbook"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/service"
	"github.com/alanyoungcy/updownbot/internal/strategy"
	"github.com/alanyoungcy/updownbot/internal/window"
)

// Operating modes.
const (
	ModePaper   = "paper"
	ModeMonitor = "monitor"
)

// ChannelStatus carries the periodic status document to dashboard clients.
const ChannelStatus = "ch:status"

const statusInterval = 2 * time.Second

// markPendingFunc adapts a function to service.PendingMarker. It lets the
// window statistics reach the pool that is built after them.
type markPendingFunc func(domain.WindowKey)

func (f markPendingFunc) MarkPending(key domain.WindowKey) { f(key) }

// runtime holds the components shared by both modes.
type runtime struct {
	mode        string
	books       *orderbook.Store
	feed        *feed.PolymarketWSFeed
	pool        *window.Pool
	stats       *service.WindowStats
	distributor *service.PriceDistributor
	recorder    *service.QuoteRecorder
	coordinator *strategy.Coordinator
	relay       *service.EventRelay
	hub         *ws.Hub
	server      *server.Server
	started     time.Time
	bookCount   atomic.Int64
}

// PaperMode runs the strategy workers against live books and writes
// simulated round trips to the configured ledgers.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	rt, err := a.build(deps, true)
	if err != nil {
		return err
	}
	return a.run(ctx, rt, deps)
}

// MonitorMode tracks windows, books and statistics without any strategy
// worker. With an event bus configured, events published by a paper process
// are mirrored to the dashboard.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	rt, err := a.build(deps, false)
	if err != nil {
		return err
	}
	return a.run(ctx, rt, deps)
}

func (a *App) build(deps *Dependencies, trading bool) (*runtime, error) {
	cfg := a.cfg
	loc, err := ledger.LoadLocation(cfg.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	primary, err := domain.ParseTimeframe(cfg.Distributor.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("app: distributor timeframe: %w", err)
	}

	rt := &runtime{
		mode:    cfg.Mode,
		books:   orderbook.New(),
		started: time.Now(),
	}
	rt.feed = feed.NewPolymarketWSFeed(feed.Config{
		URL:          cfg.Polymarket.WsURL,
		MaxRetries:   cfg.Feed.MaxRetries,
		RetryBackoff: cfg.Feed.RetryBackoff.Duration,
		Buffer:       cfg.Feed.Buffer,
	}, a.logger)

	var archiver service.SummaryArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var pool *window.Pool
	rt.stats = service.NewWindowStats(service.WindowStatsConfig{
		Timeframe:    primary,
		Assets:       cfg.Windows.Assets,
		Location:     loc,
		ExtremesPath: filepath.Join(cfg.Ledger.Dir, cfg.Ledger.ExtremesFile),
		PairsPath:    filepath.Join(cfg.Ledger.Dir, cfg.Ledger.PairsFile),
	}, markPendingFunc(func(key domain.WindowKey) { pool.MarkPending(key) }), archiver, a.logger)

	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.RequestTimeout.Duration)
	pool = window.NewPool(window.Config{
		Assets:         cfg.Windows.Assets,
		Timeframes:     cfg.Timeframes(),
		Leads:          cfg.Leads(),
		ResolveTimeout: cfg.Windows.ResolveTimeout.Duration,
	}, gamma, rt.feed, rt.stats, a.logger)
	rt.pool = pool

	var dispatcher service.Dispatcher
	if trading {
		rt.coordinator, err = a.buildCoordinator(deps, loc)
		if err != nil {
			return nil, err
		}
		dispatcher = rt.coordinator
	}

	rt.distributor = service.NewPriceDistributor(service.DistributorConfig{
		Assets:    cfg.Windows.Assets,
		Timeframe: primary,
		Throttle:  cfg.Distributor.Throttle.Duration,
	}, rt.books, rt.pool, dispatcher, a.logger)
	rt.distributor.AddObserver(rt.stats)
	if deps.QuoteCache != nil {
		rt.recorder = service.NewQuoteRecorder(deps.QuoteCache, a.logger)
		rt.distributor.AddObserver(rt.recorder)
	}

	rt.hub = ws.NewHub(func() any { return rt.status() }, a.logger)
	rt.relay = newRelay(deps, rt.hub, a.logger)
	if rt.coordinator != nil {
		rt.coordinator.Observe(rt.relay)
	}

	if cfg.Server.Enabled {
		rt.server = a.buildServer(deps, rt)
	}
	return rt, nil
}

func (a *App) buildCoordinator(deps *Dependencies, loc *time.Location) (*strategy.Coordinator, error) {
	instances, err := a.cfg.Instances()
	if err != nil {
		return nil, fmt.Errorf("app: instances: %w", err)
	}
	coord := strategy.NewCoordinator(strategy.CoordinatorConfig{
		MailboxSize:       a.cfg.Strategy.MailboxSize,
		EventBuffer:       a.cfg.Strategy.EventBuffer,
		HeartbeatInterval: a.cfg.Strategy.HeartbeatInterval.Duration,
	}, a.logger)

	csvs := ledger.NewSet(loc)
	for _, inst := range instances {
		sinks := ledger.Multi{csvs.For(inst.Output)}
		if deps.TradeStore != nil {
			sinks = append(sinks, deps.TradeStore)
		}
		if err := coord.Add(inst, sinks); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.logger.Info("strategy instance configured",
			slog.String("instance", inst.ID),
			slog.String("asset", inst.Asset),
			slog.String("variant", string(inst.Variant)),
			slog.Duration("window", inst.Params.FlashWindow),
			slog.String("threshold", inst.Params.TriggerThreshold.String()),
			slog.String("tp", inst.Params.TakeProfit.String()),
			slog.String("sl", inst.Params.StopLoss.String()),
			slog.String("output", inst.Output),
		)
	}
	return coord, nil
}

// newRelay builds the event relay, leaving absent sinks as nil interfaces.
func newRelay(deps *Dependencies, hub *ws.Hub, logger *slog.Logger) *service.EventRelay {
	var notifier service.Notifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	return service.NewEventRelay(deps.EventBus, deps.AuditStore, notifier, hub, logger)
}

func (a *App) buildServer(deps *Dependencies, rt *runtime) *server.Server {
	var recent handler.RecentTrades
	if rt.coordinator != nil {
		recent = rt.coordinator
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(rt.feed.Status, feed.StatusFatal),
		Status: handler.NewStatusHandler(func() any { return rt.status() }),
		Trades: handler.NewTradesHandler(recent, deps.TradeStore, a.logger),
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, rt.hub, a.logger)
}

func (a *App) run(ctx context.Context, rt *runtime, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	rt.feed.OnStatus(func(status string, err error) {
		b, _ := json.Marshal(map[string]any{"type": "feed_status", "status": status, "error": errString(err)})
		rt.hub.Broadcast(ChannelStatus, b)
	})

	g.Go(func() error {
		err := rt.feed.Run(gctx)
		if err != nil {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			rt.relay.ReportFatal(rctx, err)
			cancel()
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})
	g.Go(func() error { return rt.hub.Run(gctx) })
	g.Go(func() error { return rt.relay.Run(gctx) })
	if rt.coordinator != nil {
		g.Go(func() error { return rt.coordinator.Run(gctx) })
	}
	if rt.recorder != nil {
		g.Go(func() error { return rt.recorder.Run(gctx) })
	}
	if rt.server != nil {
		g.Go(func() error { return rt.server.Run(gctx) })
	}
	if rt.coordinator == nil && deps.EventBus != nil {
		g.Go(func() error {
			if err := rt.hub.Mirror(gctx, deps.EventBus, service.ChannelStrategy); err != nil {
				a.logger.Warn("event mirror stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error { return a.loop(gctx, rt) })

	err := g.Wait()
	rt.pool.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop is the single coordinating goroutine: it applies book events, drives
// the distributor and rotates windows.
func (a *App) loop(ctx context.Context, rt *runtime) error {
	interval := a.cfg.Windows.RotationInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	rotate := time.NewTicker(interval)
	defer rotate.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	rt.rotate(ctx, time.Now())
	events := rt.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			rt.apply(ev, time.Now())
		case now := <-rotate.C:
			rt.rotate(ctx, now)
		case <-status.C:
			if b, err := json.Marshal(map[string]any{"type": "bot_status", "payload": rt.status()}); err == nil {
				rt.hub.Broadcast(ChannelStatus, b)
			}
		}
	}
}

// apply mutates the book store and lets the distributor decide whether the
// change fans out.
func (rt *runtime) apply(ev feed.Event, now time.Time) {
	switch ev.Kind {
	case feed.EventSnapshot:
		if ev.Snapshot == nil {
			return
		}
		rt.books.ApplySnapshot(*ev.Snapshot)
	case feed.EventDelta:
		if ev.Delta == nil {
			return
		}
		rt.books.ApplyDelta(*ev.Delta)
	default:
		return
	}
	rt.bookCount.Store(int64(rt.books.Len()))
	rt.distributor.OnUpdate(now)
}

func (rt *runtime) rotate(ctx context.Context, now time.Time) {
	rot := rt.pool.Tick(ctx, now)
	if len(rot.Released) > 0 {
		rt.books.Forget(rot.Released...)
		rt.bookCount.Store(int64(rt.books.Len()))
	}
}

// statusDoc is served by /api/status and pushed on ch:status.
type statusDoc struct {
	Mode        string                   `json:"mode"`
	Uptime      string                   `json:"uptime"`
	Feed        string                   `json:"feed"`
	FeedError   string                   `json:"feed_error,omitempty"`
	Subscribed  int                      `json:"subscribed"`
	Books       int                      `json:"books"`
	Windows     []windowStatus           `json:"windows"`
	Distributor service.DistributorStats `json:"distributor"`
	Workers     []strategy.InstanceInfo  `json:"workers"`
	WSClients   int                      `json:"ws_clients"`
	WSDropped   int64                    `json:"ws_dropped"`
}

type windowStatus struct {
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	Phase     string `json:"phase"`
	Resolved  int    `json:"resolved"`
	Pending   bool   `json:"pending"`
	Saved     bool   `json:"saved"`
}

func (rt *runtime) status() statusDoc {
	now := time.Now()
	feedStatus, feedErr := rt.feed.Status()
	doc := statusDoc{
		Mode:        rt.mode,
		Uptime:      now.Sub(rt.started).Truncate(time.Second).String(),
		Feed:        feedStatus,
		FeedError:   errString(feedErr),
		Subscribed:  rt.pool.Subscribed(),
		Books:       int(rt.bookCount.Load()),
		Distributor: rt.distributor.Stats(),
		Workers:     []strategy.InstanceInfo{},
		WSClients:   rt.hub.ClientCount(),
		WSDropped:   rt.hub.Dropped(),
	}
	for _, v := range rt.pool.Snapshot(now) {
		doc.Windows = append(doc.Windows, windowStatus{
			Timeframe: string(v.Key.Timeframe),
			Start:     v.Key.Start,
			Phase:     string(v.Phase),
			Resolved:  v.Resolved,
			Pending:   v.Pending,
			Saved:     v.Saved,
		})
	}
	if rt.coordinator != nil {
		doc.Workers = rt.coordinator.Registry().ListInfo()
	}
	return doc
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
