package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Ledger.Dir = t.TempDir()
	cfg.Server.Enabled = false
	cfg.Notify.Events = nil
	return &cfg
}

func TestBuildPaperRuntime(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(cfg, testLogger()).build(&Dependencies{}, true)
	require.NoError(t, err)

	require.NotNil(t, rt.coordinator)
	insts := rt.coordinator.Instances()
	require.Len(t, insts, 1)
	assert.Equal(t, "BTC", insts[0].Asset)
	assert.True(t, strings.HasPrefix(insts[0].Output, cfg.Ledger.Dir))
	assert.Nil(t, rt.recorder, "no quote cache configured")
	assert.Nil(t, rt.server)
}

func TestBuildMonitorRuntime(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = ModeMonitor
	rt, err := New(cfg, testLogger()).build(&Dependencies{}, false)
	require.NoError(t, err)
	assert.Nil(t, rt.coordinator)

	doc := rt.status()
	assert.Equal(t, ModeMonitor, doc.Mode)
	assert.Empty(t, doc.Workers)
}

func TestBuildRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Timezone = "Mars/Olympus"
	_, err := New(cfg, testLogger()).build(&Dependencies{}, true)
	require.Error(t, err)
}

func TestApplyUpdatesBooks(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(cfg, testLogger()).build(&Dependencies{}, false)
	require.NoError(t, err)

	now := time.Now()
	rt.apply(feed.Event{Kind: feed.EventSnapshot, Snapshot: &domain.BookSnapshot{
		AssetID: "tok-up",
		Asks:    []domain.PriceLevel{{Price: decimal.RequireFromString("0.52"), Size: decimal.RequireFromString("10")}},
	}}, now)
	rt.apply(feed.Event{Kind: feed.EventDelta, Delta: &domain.BookDelta{
		AssetID: "tok-up",
		Changes: []domain.LevelChange{{Side: domain.SideSell, Price: decimal.RequireFromString("0.50"), Size: decimal.RequireFromString("4")}},
	}}, now)
	rt.apply(feed.Event{Kind: feed.EventDelta}, now)

	best, ok := rt.books.BestAsk("tok-up")
	require.True(t, ok)
	assert.Equal(t, "0.5", best.Price.String())
	assert.Equal(t, 1, rt.status().Books)
}

func TestRunEndsWhenFeedExhausted(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	cfg := testConfig(t)
	cfg.Polymarket.GammaHost = notFound.URL
	cfg.Polymarket.WsURL = "ws" + strings.TrimPrefix(notFound.URL, "http")
	cfg.Feed.MaxRetries = 1
	cfg.Feed.RetryBackoff.Duration = 10 * time.Millisecond

	a := New(cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFeedExhausted), "got %v", err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Polymarket.GammaHost = "http://127.0.0.1:1"
	cfg.Polymarket.WsURL = "ws://127.0.0.1:1"
	cfg.Feed.MaxRetries = 1000
	cfg.Feed.RetryBackoff.Duration = 10 * time.Millisecond

	a := New(cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestUnsupportedMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "live"
	err := New(cfg, testLogger()).Run(context.Background())
	require.Error(t, err)
}
