package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// The server drops idle market connections, so the client pings well inside
// pongWait.
const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	handshakeTimeout = 15 * time.Second
)

// BookHandler is called when a full orderbook snapshot is received.
type BookHandler func(domain.BookSnapshot)

// DeltaHandler is called once per asset for every price_change message.
type DeltaHandler func(domain.BookDelta)

// WSClient is a WebSocket client for one connection to the Polymarket CLOB
// market channel. It does not reconnect; the feed layer owns retries.
type WSClient struct {
	wsURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	bookHandlers  []BookHandler
	deltaHandlers []DeltaHandler
	handlerMu     sync.RWMutex

	done chan struct{} // closed by Close
}

// NewWSClient returns a client for the market channel at wsURL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect dials the market channel and subscribes to assetIDs.
func (w *WSClient) Connect(ctx context.Context, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: dial %s: %w", w.wsURL, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	w.conn = conn

	if assetIDs == nil {
		assetIDs = []string{}
	}
	if err := w.sendLocked(WSMarketSubscribe{AssetIDs: assetIDs, Type: "market"}); err != nil {
		_ = w.conn.Close()
		w.conn = nil
		return fmt.Errorf("polymarket/ws: initial subscribe: %w", err)
	}
	return nil
}

// Subscribe adds assets to the live connection.
func (w *WSClient) Subscribe(assetIDs []string) error {
	return w.operate("subscribe", assetIDs)
}

// Unsubscribe removes assets from the live connection.
func (w *WSClient) Unsubscribe(assetIDs []string) error {
	return w.operate("unsubscribe", assetIDs)
}

func (w *WSClient) operate(op string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: %s: not connected", op)
	}
	if err := w.sendLocked(WSOperation{AssetIDs: assetIDs, Operation: op}); err != nil {
		return fmt.Errorf("polymarket/ws: %s: %w", op, err)
	}
	return nil
}

// Listen reads and dispatches messages until the connection fails, ctx is
// cancelled or Close is called. A failed connection returns an error
// wrapping domain.ErrWSDisconnect.
func (w *WSClient) Listen(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: listen: %w", domain.ErrWSDisconnect)
	}

	stop := make(chan struct{})
	defer close(stop)
	go w.pingLoop(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return nil
			default:
			}
			return fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
	}
}

// Close sends a normal-closure frame and closes the connection. Listen then
// returns nil. The client cannot be reconnected after Close.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	if w.conn == nil {
		return nil
	}
	bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(writeWait))
	return w.conn.Close()
}

// OnBook registers a handler for full orderbook snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnDelta registers a handler for incremental level updates.
func (w *WSClient) OnDelta(handler DeltaHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.deltaHandlers = append(w.deltaHandlers, handler)
}

// sendLocked sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendLocked(cmd any) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(cmd)
}

func (w *WSClient) pingLoop(stop <-chan struct{}) {
	tick := time.NewTicker(pingPeriod)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-w.done:
			return
		case <-tick.C:
			if err := w.ping(); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return domain.ErrWSDisconnect
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleMessage parses a raw frame, which is either a single event object or
// an array of them, and routes each event by type.
func (w *WSClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}
	if raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			w.handleEvent(item)
		}
		return
	}
	w.handleEvent(raw)
}

func (w *WSClient) handleEvent(raw []byte) {
	var head struct {
		EventType string `json:"event_type"`
		MsgType   string `json:"msg_type"`
	}
	// Undecodable frames are dropped.
	if json.Unmarshal(raw, &head) != nil {
		return
	}
	kind := head.EventType
	if kind == "" {
		kind = head.MsgType
	}

	w.handlerMu.RLock()
	books, deltas := w.bookHandlers, w.deltaHandlers
	w.handlerMu.RUnlock()

	switch kind {
	case "book":
		var msg BookMessage
		if json.Unmarshal(raw, &msg) != nil || msg.AssetID == "" {
			return
		}
		snap := BookToDomainSnapshot(&msg)
		for _, fn := range books {
			fn(snap)
		}
	case "price_change":
		var msg PriceChangeMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		for _, d := range PriceChangeToDomain(&msg) {
			for _, fn := range deltas {
				fn(d)
			}
		}
	}
}
