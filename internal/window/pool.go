// Package window tracks the live Up/Down market windows of every configured
// timeframe, resolves their instruments and retires them once flushed.
package window

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Resolver maps an event slug to its [Up, Down] token ids.
type Resolver interface {
	ResolveUpDown(ctx context.Context, slug string) (domain.AssetPair, error)
}

// Subscriber is the transport side of the subscription set.
type Subscriber interface {
	Subscribe(assetIDs []string)
	Unsubscribe(assetIDs []string)
}

// Flusher persists the aggregate data of a superseded window.
type Flusher interface {
	FlushWindow(ctx context.Context, key domain.WindowKey) error
}

// Config controls which windows the pool keeps live.
type Config struct {
	Assets     []string
	Timeframes []domain.Timeframe
	Leads      map[domain.Timeframe]Leads
	// ResolveTimeout bounds a single instrument lookup.
	ResolveTimeout time.Duration
}

// Rotation is the result of one Tick.
type Rotation struct {
	Live     []domain.WindowView
	Released []string
}

type marketWindow struct {
	key       domain.WindowKey
	assets    map[string]domain.AssetPair
	resolving map[string]bool
	pending   bool
	saved     bool
	flushing  bool
}

// Pool owns the window arena keyed by (start, timeframe) and the global
// subscribed-instrument set.
type Pool struct {
	cfg      Config
	resolver Resolver
	sub      Subscriber
	flusher  Flusher
	logger   *slog.Logger

	mu         sync.Mutex
	windows    map[domain.WindowKey]*marketWindow
	subscribed map[string]struct{}

	wg sync.WaitGroup
}

// NewPool creates a Pool. flusher may be nil, in which case pending windows
// must be marked saved externally before they can retire.
func NewPool(cfg Config, resolver Resolver, sub Subscriber, flusher Flusher, logger *slog.Logger) *Pool {
	if cfg.Leads == nil {
		cfg.Leads = DefaultLeads()
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 10 * time.Second
	}
	return &Pool{
		cfg:        cfg,
		resolver:   resolver,
		sub:        sub,
		flusher:    flusher,
		logger:     logger.With(slog.String("component", "window_pool")),
		windows:    make(map[domain.WindowKey]*marketWindow),
		subscribed: make(map[string]struct{}),
	}
}

// Tick creates the current and next window of every timeframe, launches
// resolution for assets that are still missing, and retires superseded
// windows whose data has been flushed.
func (p *Pool) Tick(ctx context.Context, now time.Time) Rotation {
	p.mu.Lock()
	var released []string
	for _, tf := range p.cfg.Timeframes {
		cur := CurrentStart(tf, now)
		step := int64(tf.Duration() / time.Second)
		for _, start := range []int64{cur, cur + step} {
			p.ensureLocked(ctx, domain.WindowKey{Start: start, Timeframe: tf})
		}
		released = append(released, p.retireLocked(ctx, tf, cur)...)
	}
	live := p.viewsLocked(now)
	p.mu.Unlock()

	if len(released) > 0 && p.sub != nil {
		p.sub.Unsubscribe(released)
	}
	return Rotation{Live: live, Released: released}
}

func (p *Pool) ensureLocked(ctx context.Context, key domain.WindowKey) {
	w, ok := p.windows[key]
	if !ok {
		w = &marketWindow{
			key:       key,
			assets:    make(map[string]domain.AssetPair),
			resolving: make(map[string]bool),
		}
		p.windows[key] = w
		p.logger.Info("window created",
			slog.String("window", key.String()),
		)
	}
	for _, asset := range p.cfg.Assets {
		if _, done := w.assets[asset]; done || w.resolving[asset] {
			continue
		}
		w.resolving[asset] = true
		p.wg.Add(1)
		go p.resolve(ctx, key, asset)
	}
}

func (p *Pool) resolve(ctx context.Context, key domain.WindowKey, asset string) {
	defer p.wg.Done()

	slug := Slug(asset, key)
	rctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
	pair, err := p.resolver.ResolveUpDown(rctx, slug)
	cancel()

	p.mu.Lock()
	w, ok := p.windows[key]
	if ok {
		w.resolving[asset] = false
	}
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("instrument resolution failed",
			slog.String("window", key.String()),
			slog.String("asset", asset),
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		p.mu.Unlock()
		return
	}
	w.assets[asset] = pair
	var fresh []string
	for _, id := range pair.TokenIDs() {
		if _, dup := p.subscribed[id]; dup {
			continue
		}
		p.subscribed[id] = struct{}{}
		fresh = append(fresh, id)
	}
	p.mu.Unlock()

	p.logger.Info("instrument resolved",
		slog.String("window", key.String()),
		slog.String("asset", asset),
		slog.String("up", pair.Up),
		slog.String("down", pair.Down),
	)
	if len(fresh) > 0 && p.sub != nil {
		p.sub.Subscribe(fresh)
	}
}

// retireLocked handles windows of tf that start before cur. Windows with
// unsaved pending data are flushed asynchronously and kept; the rest are
// purged and their token ids released.
func (p *Pool) retireLocked(ctx context.Context, tf domain.Timeframe, cur int64) []string {
	var released []string
	for key, w := range p.windows {
		if key.Timeframe != tf || key.Start >= cur {
			continue
		}
		if w.pending && !w.saved {
			if !w.flushing && p.flusher != nil {
				w.flushing = true
				p.wg.Add(1)
				go p.flush(ctx, key)
			}
			continue
		}
		delete(p.windows, key)
		for _, pair := range w.assets {
			for _, id := range pair.TokenIDs() {
				if _, ok := p.subscribed[id]; ok {
					delete(p.subscribed, id)
					released = append(released, id)
				}
			}
		}
		p.logger.Info("window retired",
			slog.String("window", key.String()),
			slog.Bool("had_pending", w.pending),
		)
	}
	return released
}

func (p *Pool) flush(ctx context.Context, key domain.WindowKey) {
	defer p.wg.Done()

	err := p.flusher.FlushWindow(ctx, key)

	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[key]
	if !ok {
		return
	}
	w.flushing = false
	if err != nil {
		p.logger.Error("window flush failed",
			slog.String("window", key.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	w.saved = true
}

// MarkPending records that a window holds data that must be flushed before
// it can retire. It clears a previous saved mark.
func (p *Pool) MarkPending(key domain.WindowKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.windows[key]; ok {
		w.pending = true
		w.saved = false
	}
}

// MarkSaved records that a window's data has been persisted.
func (p *Pool) MarkSaved(key domain.WindowKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.windows[key]; ok {
		w.saved = true
	}
}

// Current returns the window of tf containing now, if the pool holds it.
func (p *Pool) Current(tf domain.Timeframe, now time.Time) (domain.WindowView, bool) {
	key := domain.WindowKey{Start: CurrentStart(tf, now), Timeframe: tf}
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[key]
	if !ok {
		return domain.WindowView{}, false
	}
	return p.viewLocked(w, now), true
}

// Leads returns the phase leads configured for tf.
func (p *Pool) Leads(tf domain.Timeframe) Leads { return p.cfg.Leads[tf] }

// Snapshot returns views of every window in the pool ordered by timeframe
// and start.
func (p *Pool) Snapshot(now time.Time) []domain.WindowView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewsLocked(now)
}

// Subscribed returns the number of instruments in the subscription set.
func (p *Pool) Subscribed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribed)
}

// SubscribedIDs returns a copy of the subscription set.
func (p *Pool) SubscribedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.subscribed))
	for id := range p.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until in-flight resolution and flush goroutines return.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) viewsLocked(now time.Time) []domain.WindowView {
	out := make([]domain.WindowView, 0, len(p.windows))
	for _, w := range p.windows {
		out = append(out, p.viewLocked(w, now))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Timeframe != out[j].Key.Timeframe {
			return out[i].Key.Timeframe < out[j].Key.Timeframe
		}
		return out[i].Key.Start < out[j].Key.Start
	})
	return out
}

func (p *Pool) viewLocked(w *marketWindow, now time.Time) domain.WindowView {
	assets := make(map[string]domain.AssetPair, len(w.assets))
	slugs := make(map[string]string, len(p.cfg.Assets))
	for a, pair := range w.assets {
		assets[a] = pair
	}
	for _, a := range p.cfg.Assets {
		slugs[a] = Slug(a, w.key)
	}
	return domain.WindowView{
		Key:      w.key,
		Phase:    PhaseAt(w.key, now, p.cfg.Leads[w.key.Timeframe]),
		Assets:   assets,
		Pending:  w.pending,
		Saved:    w.saved,
		Slugs:    slugs,
		Resolved: len(assets),
	}
}
