package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type memLedger struct {
	mu   sync.Mutex
	recs []domain.TradeRecord
	err  error
}

func (l *memLedger) Append(_ context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return l.err
}

func (l *memLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs)
}

type panicLedger struct{}

func (panicLedger) Append(context.Context, domain.TradeRecord) error { panic("boom") }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func frame(at time.Time, price string, liquidation bool) domain.MarketFrame {
	return domain.MarketFrame{
		WindowStart:        win,
		Now:                at,
		IsLiquidationPhase: liquidation,
		Quotes: map[string]domain.AssetQuotes{
			"BTC": {Up: domain.Quote{Price: d(price), Size: d("1"), Valid: true}},
		},
	}
}

// tradeSequence opens a rebound position and force clears it.
func tradeSequence() []domain.MarketFrame {
	return []domain.MarketFrame{
		frame(t0, "0.50", false),
		frame(t0.Add(time.Second), "0.49", false),
		frame(t0.Add(2*time.Second), "0.41", false),
		frame(t0.Add(3*time.Second), "0.42", true),
	}
}

func TestCoordinatorRunsTrades(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{MailboxSize: 16}, discard())
	ledger := &memLedger{}
	inst := testInstance(domain.VariantRebound)
	require.NoError(t, c.Add(inst, ledger))

	var mu sync.Mutex
	var seen []domain.EventType
	c.Observe(ObserverFunc(func(_ context.Context, ev domain.WorkerEvent) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, f := range tradeSequence() {
		assert.Equal(t, 0, c.Dispatch(f))
	}
	require.Eventually(t, func() bool { return ledger.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ExitForceClear, ledger.recs[0].Status)

	require.Eventually(t, func() bool {
		info, _ := c.Registry().Get(inst.ID)
		return info.TradesCompleted == 1 && info.PositionsOpened == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Contains(t, seen, domain.EventPositionOpened)
	assert.Contains(t, seen, domain.EventTradeCompleted)
	assert.Contains(t, seen, domain.EventHeartbeat)
	mu.Unlock()

	trades := c.RecentTrades(10)
	require.Len(t, trades, 1)
	assert.Equal(t, inst.ID, trades[0].InstanceID)

	cancel()
	require.NoError(t, <-done)
}

func TestCrashedWorkerDoesNotBlockOthers(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{MailboxSize: 4}, discard())
	bad := testInstance(domain.VariantRebound)
	bad.ID = "bad"
	good := testInstance(domain.VariantRebound)
	good.ID = "good"
	ledger := &memLedger{err: errors.New("disk full")}
	require.NoError(t, c.Add(bad, panicLedger{}))
	require.NoError(t, c.Add(good, ledger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	for _, f := range tradeSequence() {
		c.Dispatch(f)
	}
	require.Eventually(t, func() bool {
		info, _ := c.Registry().Get("bad")
		return info.Status == StatusError
	}, time.Second, 5*time.Millisecond)

	// The good worker recorded its trade despite the ledger error and keeps going.
	require.Eventually(t, func() bool { return ledger.len() == 1 }, time.Second, 5*time.Millisecond)

	// The crashed worker is no longer offered ticks, so its counters freeze.
	before, _ := c.Registry().Get("bad")
	for i := 0; i < 10; i++ {
		c.Dispatch(frame(t0.Add(time.Duration(10+i)*time.Second), "0.50", false))
	}
	info, _ := c.Registry().Get("bad")
	assert.Equal(t, before.TicksDropped, info.TicksDropped)
	assert.Equal(t, before.TicksDelivered, info.TicksDelivered)
	goodInfo, _ := c.Registry().Get("good")
	assert.Equal(t, StatusRunning, goodInfo.Status)
}

func TestStopRemovesWorker(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{}, discard())
	inst := testInstance(domain.VariantPump)
	require.NoError(t, c.Add(inst, &memLedger{}))
	require.Error(t, c.Add(inst, &memLedger{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, c.Stop(inst.ID))
	assert.ErrorIs(t, c.Stop(inst.ID), domain.ErrUnknownInstance)
	assert.Empty(t, c.Instances())
	assert.Equal(t, 0, c.Dispatch(frame(t0, "0.5", false)))
	require.Eventually(t, func() bool {
		info, ok := c.Registry().Get(inst.ID)
		return ok && info.Status == StatusStopped
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatThrottle(t *testing.T) {
	events := make(chan domain.WorkerEvent, 32)
	w := NewWorker(testInstance(domain.VariantRebound), &memLedger{}, events, 8, time.Second, discard())
	ctx := context.Background()
	w.handle(ctx, upTick(t0, "0.5"))
	w.handle(ctx, upTick(t0.Add(200*time.Millisecond), "0.5"))
	w.handle(ctx, upTick(t0.Add(time.Second), "0.5"))
	close(events)
	n := 0
	for ev := range events {
		if ev.Type == domain.EventHeartbeat {
			n++
		}
	}
	assert.Equal(t, 2, n)
}
