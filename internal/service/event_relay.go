package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Bus channel and stream names used for worker events.
const (
	ChannelStrategy = "ch:strategy"
	StreamTrades    = "stream:trades"
)

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Broadcaster pushes a payload to connected dashboard clients without
// blocking.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// EventPayload is the JSON shape of a worker event.
type EventPayload struct {
	Type            string        `json:"type"`
	InstanceID      string        `json:"instance_id"`
	Time            time.Time     `json:"time"`
	HasUpPosition   bool          `json:"has_up_position"`
	HasDownPosition bool          `json:"has_down_position"`
	Position        *PositionJSON `json:"position,omitempty"`
	Trade           *TradeJSON    `json:"trade,omitempty"`
}

// PositionJSON is the JSON shape of an open position.
type PositionJSON struct {
	Direction   string    `json:"direction"`
	WindowStart int64     `json:"window_start"`
	AnchorPrice string    `json:"anchor_price"`
	AnchorTime  time.Time `json:"anchor_time"`
	BuyPrice    string    `json:"buy_price"`
	BuyTime     time.Time `json:"buy_time"`
}

// TradeJSON is the JSON shape of a completed trade.
type TradeJSON struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Variant     string    `json:"variant"`
	Asset       string    `json:"asset"`
	Direction   string    `json:"direction"`
	WindowStart int64     `json:"window_start"`
	AnchorPrice string    `json:"anchor_price"`
	BuyPrice    string    `json:"buy_price"`
	BuyTime     time.Time `json:"buy_time"`
	SellPrice   string    `json:"sell_price"`
	SellTime    time.Time `json:"sell_time"`
	Status      string    `json:"status"`
	PnL         string    `json:"pnl"`
}

// TradeToJSON converts a record to its JSON shape.
func TradeToJSON(rec domain.TradeRecord) TradeJSON {
	return TradeJSON{
		ID:          rec.ID,
		InstanceID:  rec.InstanceID,
		Variant:     string(rec.Variant),
		Asset:       rec.Asset,
		Direction:   string(rec.Direction),
		WindowStart: rec.WindowStart,
		AnchorPrice: rec.Anchor.Price.String(),
		BuyPrice:    rec.Buy.Price.String(),
		BuyTime:     rec.Buy.Time,
		SellPrice:   rec.Sell.Price.String(),
		SellTime:    rec.Sell.Time,
		Status:      string(rec.Status),
		PnL:         rec.PnL().String(),
	}
}

// EventToJSON converts a worker event to its JSON shape.
func EventToJSON(ev domain.WorkerEvent) EventPayload {
	out := EventPayload{
		Type:            string(ev.Type),
		InstanceID:      ev.InstanceID,
		Time:            ev.Time,
		HasUpPosition:   ev.HasUpPosition,
		HasDownPosition: ev.HasDownPosition,
	}
	if p := ev.Position; p != nil {
		out.Position = &PositionJSON{
			Direction:   string(p.Direction),
			WindowStart: p.WindowStart,
			AnchorPrice: p.Anchor.Price.String(),
			AnchorTime:  p.Anchor.Time,
			BuyPrice:    p.Buy.Price.String(),
			BuyTime:     p.Buy.Time,
		}
	}
	if ev.Trade != nil {
		tj := TradeToJSON(*ev.Trade)
		out.Trade = &tj
	}
	return out
}

// EventRelay forwards worker events to the dashboard hub, the event bus, the
// audit log and the notifier. Slow sinks run on the relay's own goroutine
// behind a bounded queue; events that do not fit are dropped.
type EventRelay struct {
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier Notifier
	hub      Broadcaster
	queue    chan domain.WorkerEvent
	logger   *slog.Logger
}

// NewEventRelay creates an EventRelay. Every sink is optional.
func NewEventRelay(bus domain.EventBus, audit domain.AuditStore, notifier Notifier, hub Broadcaster, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		hub:      hub,
		queue:    make(chan domain.WorkerEvent, 256),
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// OnWorkerEvent implements strategy.EventObserver.
func (r *EventRelay) OnWorkerEvent(_ context.Context, ev domain.WorkerEvent) {
	if r.hub != nil {
		if b, err := json.Marshal(EventToJSON(ev)); err == nil {
			r.hub.Broadcast(ChannelStrategy, b)
		}
	}
	if r.bus == nil && r.audit == nil && r.notifier == nil {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("relay queue full, dropping event", slog.String("type", string(ev.Type)))
	}
}

// Run drains the queue until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			r.forward(ctx, ev)
		}
	}
}

func (r *EventRelay) forward(ctx context.Context, ev domain.WorkerEvent) {
	payload, err := json.Marshal(EventToJSON(ev))
	if err != nil {
		r.logger.Error("marshal event", slog.String("error", err.Error()))
		return
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, ChannelStrategy, payload); err != nil {
			r.logger.Warn("publish event failed", slog.String("error", err.Error()))
		}
	}
	if ev.Type != domain.EventTradeCompleted || ev.Trade == nil {
		return
	}
	rec := ev.Trade
	if r.bus != nil {
		if err := r.bus.StreamAppend(ctx, StreamTrades, payload); err != nil {
			r.logger.Warn("append trade stream failed", slog.String("error", err.Error()))
		}
	}
	if r.audit != nil {
		detail := map[string]any{
			"trade_id":    rec.ID,
			"instance_id": rec.InstanceID,
			"asset":       rec.Asset,
			"direction":   string(rec.Direction),
			"status":      string(rec.Status),
			"buy_price":   rec.Buy.Price.String(),
			"sell_price":  rec.Sell.Price.String(),
		}
		if err := r.audit.Log(ctx, "trade_completed", detail); err != nil {
			r.logger.Warn("audit trade failed", slog.String("error", err.Error()))
		}
	}
	if r.notifier != nil {
		title := fmt.Sprintf("%s %s %s", rec.Asset, rec.Direction, rec.Status)
		msg := fmt.Sprintf("instance %s: buy %s sell %s pnl %s",
			rec.InstanceID, rec.Buy.Price, rec.Sell.Price, rec.PnL())
		if err := r.notifier.Notify(ctx, "trade_completed", title, msg); err != nil {
			r.logger.Warn("notify trade failed", slog.String("error", err.Error()))
		}
	}
}

// ReportFatal records a fatal error synchronously. It is used when the feed
// gives up and trading halts.
func (r *EventRelay) ReportFatal(ctx context.Context, cause error) {
	if r.audit != nil {
		if err := r.audit.Log(ctx, "feed_fatal", map[string]any{"error": cause.Error()}); err != nil {
			r.logger.Warn("audit fatal failed", slog.String("error", err.Error()))
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, "feed_fatal", "Feed fatal error", cause.Error()); err != nil {
			r.logger.Warn("notify fatal failed", slog.String("error", err.Error()))
		}
	}
	if r.hub != nil {
		b, _ := json.Marshal(map[string]string{"type": "FATAL", "error": cause.Error()})
		r.hub.Broadcast(ChannelStrategy, b)
	}
}
