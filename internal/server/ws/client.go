package ws

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	queueSize      = 256
)

// subscriptions is a client's channel set. A trailing '*' matches any
// channel with that prefix, so "ch:*" matches "ch:strategy".
type subscriptions struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func newSubscriptions(channels ...string) *subscriptions {
	s := &subscriptions{set: make(map[string]struct{}, len(channels))}
	s.add(channels)
	return s
}

func (s *subscriptions) add(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if ch != "" {
			s.set[ch] = struct{}{}
		}
	}
}

func (s *subscriptions) remove(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		delete(s.set, ch)
	}
}

func (s *subscriptions) matches(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.set[channel]; ok {
		return true
	}
	for sub := range s.set {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (s *subscriptions) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.set))
	for ch := range s.set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// request is a client control frame, e.g.
// {"action":"subscribe","channels":["ch:status"]}.
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	subs *subscriptions

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: newSubscriptions(defaultChannels...),
	}
}

// enqueue reports false when the client's buffer is full or the client is
// gone.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write loop. It is safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// reply sends a typed message to this client only.
func (c *client) reply(kind string, payload any) {
	b, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *client) handle(req request) {
	switch req.Action {
	case "subscribe":
		c.subs.add(req.Channels)
	case "unsubscribe":
		c.subs.remove(req.Channels)
	default:
		c.reply("error", map[string]string{"message": "unknown action " + req.Action})
		return
	}
	c.reply("subscriptions", c.subs.list())
}

func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var req request
		if json.Unmarshal(msg, &req) == nil && req.Action != "" {
			c.handle(req)
		}
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
