package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// quoteTTL bounds how long a quote outlives its window.
const quoteTTL = 2 * time.Hour

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// asset/direction is stored at "quote:{ASSET}:{Direction}" with fields
// "price", "size", "window_start" and "ts" (Unix milliseconds). Invalid
// quotes store an empty price.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(asset string, dir domain.Direction) string {
	return "quote:" + strings.ToUpper(asset) + ":" + string(dir)
}

func quoteFields(windowStart int64, q domain.Quote, now time.Time) map[string]any {
	price, size := "", ""
	if q.Valid {
		price, size = q.Price.String(), q.Size.String()
	}
	return map[string]any{
		"price":        price,
		"size":         size,
		"window_start": strconv.FormatInt(windowStart, 10),
		"ts":           strconv.FormatInt(now.UnixMilli(), 10),
	}
}

// SetFrame writes every quote of the frame in one pipeline.
func (qc *QuoteCache) SetFrame(ctx context.Context, frame domain.MarketFrame) error {
	if len(frame.Quotes) == 0 {
		return nil
	}
	pipe := qc.rdb.Pipeline()
	for asset, quotes := range frame.Quotes {
		for _, dir := range domain.Directions {
			q := quotes.Up
			if dir == domain.DirectionDown {
				q = quotes.Down
			}
			key := quoteKey(asset, dir)
			pipe.HSet(ctx, key, quoteFields(frame.WindowStart, q, frame.Now))
			pipe.Expire(ctx, key, quoteTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set frame %d: %w", frame.WindowStart, err)
	}
	return nil
}

// Get returns the last quote written for asset/dir. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) Get(ctx context.Context, asset string, dir domain.Direction) (domain.CachedQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(asset, dir)).Result()
	if err != nil {
		return domain.CachedQuote{}, fmt.Errorf("redis: get quote %s %s: %w", asset, dir, err)
	}
	if len(vals) == 0 {
		return domain.CachedQuote{}, domain.ErrNotFound
	}
	return parseQuote(asset, dir, vals)
}

func parseQuote(asset string, dir domain.Direction, vals map[string]string) (domain.CachedQuote, error) {
	out := domain.CachedQuote{
		Asset:     strings.ToUpper(asset),
		Direction: dir,
		Price:     vals["price"],
		Size:      vals["size"],
	}
	if v, ok := vals["window_start"]; ok {
		ws, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.CachedQuote{}, fmt.Errorf("redis: parse window_start %s: %w", asset, err)
		}
		out.WindowStart = ws
	}
	if v, ok := vals["ts"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.CachedQuote{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
		}
		out.Time = time.UnixMilli(ms)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
