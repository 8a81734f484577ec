package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeRecent []domain.TradeRecord

func (f fakeRecent) RecentTrades(limit int) []domain.TradeRecord {
	if limit > 0 && limit < len(f) {
		return f[:limit]
	}
	return f
}

func newTestServer(t *testing.T, cfg Config, feedStatus string, feedErr error) (*httptest.Server, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub(func() any { return map[string]string{"mode": "paper"} }, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	rec := domain.TradeRecord{
		ID: "t1", Asset: "BTC", Direction: domain.DirectionUp, Status: domain.ExitTakeProfit,
		Buy:  domain.PricePoint{Price: decimal.RequireFromString("0.41")},
		Sell: domain.PricePoint{Price: decimal.RequireFromString("0.46")},
	}
	handlers := Handlers{
		Health: handler.NewHealthHandler(func() (string, error) { return feedStatus, feedErr }, "Fatal error"),
		Status: handler.NewStatusHandler(func() any { return map[string]any{"mode": "paper", "workers": 1} }),
		Trades: handler.NewTradesHandler(fakeRecent{rec, rec}, nil, testLogger()),
	}
	srv := httptest.NewServer(Routes(cfg, handlers, hub, testLogger()))
	t.Cleanup(srv.Close)
	return srv, hub
}

func getJSON(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"}, "Connected", nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	code, body := getJSON(t, req)
	assert.Equal(t, http.StatusOK, code, "health needs no key")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Connected", body["feed"])
}

func TestHealthFatalFeed(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, "Fatal error", errors.New("feed: retries exhausted"))
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	code, body := getJSON(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fatal", body["status"])
	assert.Equal(t, "feed: retries exhausted", body["feed_error"])
}

func TestAuthAndTrades(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"}, "Connected", nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/trades/recent?limit=1", nil)
	code, _ := getJSON(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	req.Header.Set("X-API-Key", "secret")
	code, body := getJSON(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])
	trades := body["trades"].([]any)
	first := trades[0].(map[string]any)
	assert.Equal(t, "0.05", first["pnl"])

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/trades/recent?source=db", nil)
	req.Header.Set("Authorization", "Bearer secret")
	code, _ = getJSON(t, req)
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, "Connected", nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	code, body := getJSON(t, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paper", body["mode"])
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	srv, hub := newTestServer(t, Config{}, "Connected", nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "bot_status", hello["type"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast("ch:other", []byte(`{"skip":true}`))
	hub.Broadcast("ch:strategy", []byte(`{"type":"TRADE_COMPLETED"}`))

	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "TRADE_COMPLETED", ev["type"])
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{RateLimit: 1}, "Connected", nil)
	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/api/status")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}
