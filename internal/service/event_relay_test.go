package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type busSpy struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (b *busSpy) Publish(_ context.Context, ch string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ch)
	return nil
}

func (b *busSpy) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *busSpy) StreamAppend(_ context.Context, s string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, s)
	return nil
}

type auditSpy struct {
	mu     sync.Mutex
	events []string
}

func (a *auditSpy) Log(_ context.Context, ev string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *auditSpy) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *auditSpy) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type notifySpy struct {
	mu     sync.Mutex
	titles []string
}

func (n *notifySpy) Notify(_ context.Context, _, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return errors.New("telegram down")
}

type hubSpy struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *hubSpy) Broadcast(_ string, p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, p)
}

func TestEventRelayForwardsTrades(t *testing.T) {
	bus, audit, notif, hub := &busSpy{}, &auditSpy{}, &notifySpy{}, &hubSpy{}
	r := NewEventRelay(bus, audit, notif, hub, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	now := time.Unix(start, 0)
	rec := &domain.TradeRecord{
		ID: "t1", InstanceID: "btc", Asset: "BTC", Direction: domain.DirectionUp,
		Buy:    domain.PricePoint{Price: dec("0.41"), Time: now},
		Sell:   domain.PricePoint{Price: dec("0.46"), Time: now},
		Status: domain.ExitTakeProfit,
	}
	r.OnWorkerEvent(ctx, domain.WorkerEvent{Type: domain.EventHeartbeat, InstanceID: "btc", Time: now})
	r.OnWorkerEvent(ctx, domain.WorkerEvent{Type: domain.EventTradeCompleted, InstanceID: "btc", Time: now, Trade: rec})

	require.Eventually(t, func() bool { return audit.count() == 1 }, time.Second, 5*time.Millisecond)
	bus.mu.Lock()
	assert.Equal(t, []string{ChannelStrategy, ChannelStrategy}, bus.published)
	assert.Equal(t, []string{StreamTrades}, bus.streamed)
	bus.mu.Unlock()

	require.Eventually(t, func() bool {
		notif.mu.Lock()
		defer notif.mu.Unlock()
		return len(notif.titles) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "BTC Up TAKE_PROFIT", notif.titles[0])

	hub.mu.Lock()
	require.Len(t, hub.payloads, 2)
	var p EventPayload
	require.NoError(t, json.Unmarshal(hub.payloads[1], &p))
	hub.mu.Unlock()
	assert.Equal(t, "TRADE_COMPLETED", p.Type)
	require.NotNil(t, p.Trade)
	assert.Equal(t, "0.05", p.Trade.PnL)
}

func TestEventRelayReportFatal(t *testing.T) {
	audit, hub := &auditSpy{}, &hubSpy{}
	r := NewEventRelay(nil, audit, nil, hub, discard())
	r.ReportFatal(context.Background(), domain.ErrFeedExhausted)
	assert.Equal(t, []string{"feed_fatal"}, audit.events)
	assert.Len(t, hub.payloads, 1)
}

type cacheSpy struct {
	mu     sync.Mutex
	frames []domain.MarketFrame
}

func (c *cacheSpy) SetFrame(_ context.Context, f domain.MarketFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *cacheSpy) Get(context.Context, string, domain.Direction) (domain.CachedQuote, error) {
	return domain.CachedQuote{}, domain.ErrNotFound
}

func TestQuoteRecorderKeepsLatest(t *testing.T) {
	cache := &cacheSpy{}
	r := NewQuoteRecorder(cache, discard())
	r.OnFrame(domain.MarketFrame{WindowStart: 1})
	r.OnFrame(domain.MarketFrame{WindowStart: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.frames) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, cache.frames[0].WindowStart)
}
