package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Worker runs both direction machines of one instance on its own goroutine.
// It owns its state exclusively and talks to the outside only through its
// mailbox, its ledger and the shared event channel.
type Worker struct {
	inst      domain.Instance
	machines  [2]*Machine
	ledger    domain.TradeLedger
	mailbox   chan domain.Tick
	events    chan<- domain.WorkerEvent
	heartbeat time.Duration
	lastBeat  time.Time
	logger    *slog.Logger
}

// NewWorker creates a Worker. A zero heartbeat interval sends a heartbeat
// after every tick.
func NewWorker(inst domain.Instance, ledger domain.TradeLedger, events chan<- domain.WorkerEvent, mailboxSize int, heartbeat time.Duration, logger *slog.Logger) *Worker {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	return &Worker{
		inst: inst,
		machines: [2]*Machine{
			NewMachine(inst, domain.DirectionUp),
			NewMachine(inst, domain.DirectionDown),
		},
		ledger:    ledger,
		mailbox:   make(chan domain.Tick, mailboxSize),
		events:    events,
		heartbeat: heartbeat,
		logger: logger.With(
			slog.String("component", "strategy_worker"),
			slog.String("instance", inst.ID),
			slog.String("asset", inst.Asset),
			slog.String("variant", string(inst.Variant)),
		),
	}
}

// Instance returns the worker's configuration.
func (w *Worker) Instance() domain.Instance { return w.inst }

// Offer enqueues a tick without blocking. It reports false when the mailbox
// is full and the tick was dropped.
func (w *Worker) Offer(t domain.Tick) bool {
	select {
	case w.mailbox <- t:
		return true
	default:
		return false
	}
}

// Run processes ticks in arrival order until ctx is cancelled. A panic in
// the state machine is returned as an error.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy: worker %s panicked: %v", w.inst.ID, r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-w.mailbox:
			w.handle(ctx, t)
		}
	}
}

func (w *Worker) handle(ctx context.Context, t domain.Tick) {
	for _, m := range w.machines {
		tr := m.Step(t)
		switch {
		case tr.Opened != nil:
			w.logger.Info("position opened",
				slog.String("direction", string(tr.Opened.Direction)),
				slog.String("anchor_price", tr.Opened.Anchor.Price.String()),
				slog.String("buy_price", tr.Opened.Buy.Price.String()),
			)
			w.emit(domain.WorkerEvent{
				Type:       domain.EventPositionOpened,
				InstanceID: w.inst.ID,
				Time:       t.Now,
				Position:   tr.Opened,
			})
		case tr.Closed != nil:
			rec := tr.Closed
			if err := w.ledger.Append(ctx, *rec); err != nil {
				w.logger.Error("ledger append failed",
					slog.String("trade_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
			w.logger.Info("trade completed",
				slog.String("direction", string(rec.Direction)),
				slog.String("status", string(rec.Status)),
				slog.String("buy_price", rec.Buy.Price.String()),
				slog.String("sell_price", rec.Sell.Price.String()),
			)
			w.emit(domain.WorkerEvent{
				Type:       domain.EventTradeCompleted,
				InstanceID: w.inst.ID,
				Time:       t.Now,
				Trade:      rec,
			})
		}
	}

	if w.heartbeat > 0 && !w.lastBeat.IsZero() && t.Now.Sub(w.lastBeat) < w.heartbeat {
		return
	}
	w.lastBeat = t.Now
	_, up := w.machines[0].Pending()
	_, down := w.machines[1].Pending()
	w.emit(domain.WorkerEvent{
		Type:            domain.EventHeartbeat,
		InstanceID:      w.inst.ID,
		Time:            t.Now,
		HasUpPosition:   up,
		HasDownPosition: down,
	})
}

// emit never blocks; status events are observational.
func (w *Worker) emit(ev domain.WorkerEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Debug("event channel full, dropping event", slog.String("type", string(ev.Type)))
	}
}
