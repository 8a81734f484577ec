// Package feed keeps a market-data stream alive over the Polymarket CLOB
// WebSocket and hands book events to the coordinating loop.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
)

// Status values reported to observers.
const (
	StatusConnecting = "Connecting"
	StatusConnected  = "Connected"
	StatusRetrying   = "Retrying"
	StatusFatal      = "Fatal error"
)

// EventKind distinguishes the payload of an Event.
type EventKind int

const (
	EventSnapshot EventKind = iota
	EventDelta
)

// Event is one book update taken off the wire.
type Event struct {
	Kind     EventKind
	Snapshot *domain.BookSnapshot
	Delta    *domain.BookDelta
}

// Config controls the connection and its retry budget.
type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	Buffer       int
}

// PolymarketWSFeed maintains one CLOB market-channel connection at a time.
// A dropped connection is re-dialled after a fixed backoff and every recorded
// asset id is subscribed again. More than MaxRetries consecutive failures end
// Run with domain.ErrFeedExhausted.
type PolymarketWSFeed struct {
	cfg    Config
	logger *slog.Logger
	events chan Event

	mu       sync.Mutex
	assets   map[string]struct{}
	client   *polymarket.WSClient
	status   string
	lastErr  error
	onStatus []func(status string, err error)
}

// NewPolymarketWSFeed creates a feed. Asset ids are added with Subscribe,
// before or after Run starts.
func NewPolymarketWSFeed(cfg Config, logger *slog.Logger) *PolymarketWSFeed {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &PolymarketWSFeed{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "polymarket_ws_feed")),
		events: make(chan Event, cfg.Buffer),
		assets: make(map[string]struct{}),
		status: StatusConnecting,
	}
}

// Events returns the channel book events are delivered on. It is never closed.
func (f *PolymarketWSFeed) Events() <-chan Event { return f.events }

// OnStatus registers a callback fired on every status change.
func (f *PolymarketWSFeed) OnStatus(fn func(status string, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = append(f.onStatus, fn)
}

// Status returns the current status and the error that caused it, if any.
func (f *PolymarketWSFeed) Status() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.lastErr
}

// Subscribe records ids and, when connected, subscribes them on the live
// connection. A send failure is left to the reconnect path, which
// resubscribes everything recorded.
func (f *PolymarketWSFeed) Subscribe(ids []string) {
	f.mu.Lock()
	var fresh []string
	for _, id := range ids {
		if _, ok := f.assets[id]; ok || id == "" {
			continue
		}
		f.assets[id] = struct{}{}
		fresh = append(fresh, id)
	}
	client := f.client
	f.mu.Unlock()

	if client == nil || len(fresh) == 0 {
		return
	}
	if err := client.Subscribe(fresh); err != nil {
		f.logger.Warn("subscribe on live connection failed", slog.Int("assets", len(fresh)), slog.String("error", err.Error()))
	}
}

// Unsubscribe forgets ids and unsubscribes them on the live connection.
func (f *PolymarketWSFeed) Unsubscribe(ids []string) {
	f.mu.Lock()
	var gone []string
	for _, id := range ids {
		if _, ok := f.assets[id]; !ok {
			continue
		}
		delete(f.assets, id)
		gone = append(gone, id)
	}
	client := f.client
	f.mu.Unlock()

	if client == nil || len(gone) == 0 {
		return
	}
	if err := client.Unsubscribe(gone); err != nil {
		f.logger.Warn("unsubscribe on live connection failed", slog.Int("assets", len(gone)), slog.String("error", err.Error()))
	}
}

// Assets returns the recorded asset ids, sorted.
func (f *PolymarketWSFeed) Assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.assets))
	for id := range f.assets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run connects and streams until ctx is cancelled, which returns nil. A
// successful connection resets the failure count.
func (f *PolymarketWSFeed) Run(ctx context.Context) error {
	failures := 0
	for {
		if failures == 0 {
			f.setStatus(StatusConnecting, nil)
		}
		err := f.runConnection(ctx, func() { failures = 0 })
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = domain.ErrWSDisconnect
		}

		failures++
		if failures > f.cfg.MaxRetries {
			fatal := fmt.Errorf("feed: %w after %d attempts: %w", domain.ErrFeedExhausted, failures, err)
			f.setStatus(StatusFatal, fatal)
			f.logger.Error("feed retries exhausted", slog.Int("attempts", failures), slog.String("error", err.Error()))
			return fatal
		}

		f.setStatus(StatusRetrying, err)
		f.logger.Warn("polymarket ws disconnected, retrying",
			slog.Int("attempt", failures),
			slog.Int("max_retries", f.cfg.MaxRetries),
			slog.Duration("backoff", f.cfg.RetryBackoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.cfg.RetryBackoff):
		}
	}
}

func (f *PolymarketWSFeed) runConnection(ctx context.Context, connected func()) error {
	client := polymarket.NewWSClient(f.cfg.URL)
	defer client.Close()

	client.OnBook(func(snap domain.BookSnapshot) {
		f.deliver(ctx, Event{Kind: EventSnapshot, Snapshot: &snap})
	})
	client.OnDelta(func(delta domain.BookDelta) {
		f.deliver(ctx, Event{Kind: EventDelta, Delta: &delta})
	})

	// Dial without the lock so Status and Subscribe stay responsive. Ids
	// recorded or forgotten during the dial are reconciled once the client
	// is published.
	ids := f.Assets()
	if err := client.Connect(ctx, ids); err != nil {
		return err
	}
	f.mu.Lock()
	f.client = client
	added, removed := diffAssets(ids, f.assets)
	f.mu.Unlock()
	if len(added) > 0 {
		if err := client.Subscribe(added); err != nil {
			return fmt.Errorf("%w: subscribe after dial: %w", domain.ErrWSDisconnect, err)
		}
	}
	if len(removed) > 0 {
		if err := client.Unsubscribe(removed); err != nil {
			return fmt.Errorf("%w: unsubscribe after dial: %w", domain.ErrWSDisconnect, err)
		}
	}
	defer func() {
		f.mu.Lock()
		if f.client == client {
			f.client = nil
		}
		f.mu.Unlock()
	}()

	connected()
	f.setStatus(StatusConnected, nil)
	f.logger.Info("polymarket ws subscribed", slog.Int("assets", len(ids)))

	err := client.Listen(ctx)
	if err != nil && !errors.Is(err, domain.ErrWSDisconnect) {
		err = fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
	}
	return err
}

// diffAssets compares the ids sent at dial time with the current set. Both
// results are sorted.
func diffAssets(sent []string, current map[string]struct{}) (added, removed []string) {
	had := make(map[string]struct{}, len(sent))
	for _, id := range sent {
		had[id] = struct{}{}
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	for id := range current {
		if _, ok := had[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Strings(added)
	return added, removed
}

func (f *PolymarketWSFeed) deliver(ctx context.Context, ev Event) {
	select {
	case f.events <- ev:
	case <-ctx.Done():
	}
}

func (f *PolymarketWSFeed) setStatus(status string, err error) {
	f.mu.Lock()
	changed := f.status != status
	f.status = status
	f.lastErr = err
	hooks := f.onStatus
	f.mu.Unlock()

	if !changed && status != StatusRetrying {
		return
	}
	for _, fn := range hooks {
		fn(status, err)
	}
}
