// Package strategy implements the flash-dislocation state machines and the
// coordinator that runs one worker goroutine per configured instance.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// EventObserver receives every worker event on the coordinator's event
// goroutine. Implementations must not block for long.
type EventObserver interface {
	OnWorkerEvent(ctx context.Context, ev domain.WorkerEvent)
}

// ObserverFunc adapts a function to EventObserver.
type ObserverFunc func(ctx context.Context, ev domain.WorkerEvent)

func (f ObserverFunc) OnWorkerEvent(ctx context.Context, ev domain.WorkerEvent) { f(ctx, ev) }

// CoordinatorConfig holds the coordinator's sizing.
type CoordinatorConfig struct {
	MailboxSize       int
	EventBuffer       int
	HeartbeatInterval time.Duration
	RecentLimit       int
}

type workerHandle struct {
	w      *Worker
	cancel context.CancelFunc
	failed bool // crashed; no longer offered ticks
}

// Coordinator owns the worker goroutines. Dispatch never blocks: a worker
// whose mailbox is full misses that tick, and a crashed worker is marked in
// the registry while the others keep running.
type Coordinator struct {
	cfg       CoordinatorConfig
	registry  *Registry
	events    chan domain.WorkerEvent
	observers []EventObserver
	base      *slog.Logger
	logger    *slog.Logger

	mu           sync.Mutex
	order        []string
	handles      map[string]*workerHandle
	started      bool
	recentTrades []domain.TradeRecord
}

// NewCoordinator creates a Coordinator with its own Registry.
func NewCoordinator(cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 500
	}
	return &Coordinator{
		cfg:      cfg,
		registry: NewRegistry(),
		events:   make(chan domain.WorkerEvent, cfg.EventBuffer),
		handles:  make(map[string]*workerHandle),
		base:     logger,
		logger:   logger.With(slog.String("component", "coordinator")),
	}
}

// Registry exposes runtime info of the instances.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Observe adds an event observer. It must be called before Run.
func (c *Coordinator) Observe(obs EventObserver) {
	c.observers = append(c.observers, obs)
}

// Add registers an instance with the ledger its trades are written to.
// Instances must be added before Run.
func (c *Coordinator) Add(inst domain.Instance, ledger domain.TradeLedger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("strategy: add %s: coordinator already running", inst.ID)
	}
	if _, dup := c.handles[inst.ID]; dup {
		return fmt.Errorf("strategy: add %s: duplicate instance id", inst.ID)
	}
	w := NewWorker(inst, ledger, c.events, c.cfg.MailboxSize, c.cfg.HeartbeatInterval, c.base)
	c.handles[inst.ID] = &workerHandle{w: w}
	c.order = append(c.order, inst.ID)
	c.registry.Register(inst)
	return nil
}

// Instances returns the configured instances in order.
func (c *Coordinator) Instances() []domain.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Instance, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.handles[id].w.Instance())
	}
	return out
}

// Dispatch hands one tick per instance to every live worker, in
// configuration order. Crashed workers are skipped. It returns the number
// of ticks dropped on full mailboxes.
func (c *Coordinator) Dispatch(frame domain.MarketFrame) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for _, id := range c.order {
		h := c.handles[id]
		if h.failed {
			continue
		}
		ok := h.w.Offer(frame.TickFor(h.w.Instance()))
		c.registry.CountDelivery(id, ok)
		if !ok {
			dropped++
		}
	}
	return dropped
}

// Stop tears down one worker. Its open positions are discarded.
func (c *Coordinator) Stop(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	if !ok {
		return fmt.Errorf("strategy: stop %s: %w", id, domain.ErrUnknownInstance)
	}
	if h.cancel != nil {
		h.cancel()
	}
	delete(c.handles, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.registry.SetStatus(id, StatusStopped, nil)
	c.logger.Info("worker removed", slog.String("instance", id))
	return nil
}

// Run starts one goroutine per instance plus the event goroutine, and
// blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	c.mu.Lock()
	c.started = true
	for _, id := range c.order {
		h := c.handles[id]
		wctx, cancel := context.WithCancel(gctx)
		h.cancel = cancel
		g.Go(func() error {
			c.runWorker(wctx, h)
			return nil
		})
	}
	n := len(c.order)
	c.mu.Unlock()

	c.logger.Info("coordinator started", slog.Int("workers", n))
	defer c.logger.Info("coordinator stopped")

	g.Go(func() error {
		c.eventLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (c *Coordinator) runWorker(ctx context.Context, h *workerHandle) {
	id := h.w.Instance().ID
	c.registry.SetStatus(id, StatusRunning, nil)
	if err := h.w.Run(ctx); err != nil {
		c.logger.Error("worker crashed",
			slog.String("instance", id),
			slog.String("error", err.Error()),
		)
		c.mu.Lock()
		h.failed = true
		c.mu.Unlock()
		c.registry.SetStatus(id, StatusError, err)
		return
	}
	c.registry.SetStatus(id, StatusStopped, nil)
}

func (c *Coordinator) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.registry.Observe(ev)
			if ev.Trade != nil {
				c.rememberTrade(*ev.Trade)
			}
			for _, obs := range c.observers {
				obs.OnWorkerEvent(ctx, ev)
			}
		}
	}
}

func (c *Coordinator) rememberTrade(rec domain.TradeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentTrades = append(c.recentTrades, rec)
	if overflow := len(c.recentTrades) - c.cfg.RecentLimit; overflow > 0 {
		c.recentTrades = append([]domain.TradeRecord(nil), c.recentTrades[overflow:]...)
	}
}

// RecentTrades returns up to limit most recent trades, newest first.
func (c *Coordinator) RecentTrades(limit int) []domain.TradeRecord {
	if limit <= 0 {
		limit = 20
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.recentTrades)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.recentTrades[i])
	}
	return out
}
