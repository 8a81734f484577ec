// Package ws pushes worker events and bot status to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Channels a new connection receives until it sends a subscribe or
// unsubscribe request.
var defaultChannels = []string{"ch:strategy", "ch:status"}

// StatusFunc returns the snapshot sent to a client right after it connects.
type StatusFunc func() any

type envelope struct {
	channel string
	data    []byte
}

// Hub fans messages out to connected clients. The client set is owned by
// the Run goroutine; other goroutines reach it only through channels.
type Hub struct {
	status   StatusFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader

	queue chan envelope
	join  chan *client
	leave chan *client
	done  chan struct{}

	clients atomic.Int64
	dropped atomic.Int64
}

// NewHub returns a hub. status may be nil.
func NewHub(status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		status: status,
		logger: logger.With(slog.String("component", "ws_hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS and auth middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queue: make(chan envelope, queueSize),
		join:  make(chan *client),
		leave: make(chan *client),
		done:  make(chan struct{}),
	}
}

// Broadcast queues payload for the clients subscribed to channel. It never
// blocks; a full queue drops the message.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.queue <- envelope{channel: channel, data: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Run delivers queued messages until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	set := make(map[*client]struct{})
	drop := func(c *client) {
		if _, ok := set[c]; !ok {
			return
		}
		delete(set, c)
		c.close()
		h.clients.Store(int64(len(set)))
	}

	for {
		select {
		case <-ctx.Done():
			for c := range set {
				drop(c)
			}
			return nil

		case c := <-h.join:
			set[c] = struct{}{}
			h.clients.Store(int64(len(set)))
			h.logger.Info("ws: client connected", slog.Int("total_clients", len(set)))

		case c := <-h.leave:
			drop(c)
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(set)))

		case env := <-h.queue:
			for c := range set {
				if !c.subs.matches(env.channel) {
					continue
				}
				if !c.enqueue(env.data) {
					h.dropped.Add(1)
					h.logger.Warn("ws: slow client, message dropped", slog.String("channel", env.channel))
				}
			}
		}
	}
}

// Mirror rebroadcasts everything published on a bus channel until ctx is
// cancelled. A monitor process uses it to show the worker events of a paper
// process sharing the same Redis.
func (h *Hub) Mirror(ctx context.Context, bus domain.EventBus, channel string) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: mirroring channel", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			h.Broadcast(channel, data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return int(h.clients.Load()) }

// Dropped returns how many messages were discarded, either because the hub
// queue was full or a client could not keep up.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// HandleWS upgrades the request and attaches the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	var payload any = map[string]any{}
	if h.status != nil {
		payload = h.status()
	}
	c.reply("bot_status", payload)

	select {
	case h.join <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}
