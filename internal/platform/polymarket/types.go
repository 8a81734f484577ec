package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals a JSON array of strings that Gamma usually sends
// encoded inside a string, e.g. "[\"123\",\"456\"]".
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*f = nil
			return nil
		}
		data = []byte(s)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*f = out
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Gamma API.
type APIEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Active    flexBool    `json:"active"`
	Closed    bool        `json:"closed"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Markets   []APIMarket `json:"markets"`
}

// APIMarket represents a market nested in a Gamma event.
type APIMarket struct {
	ID           string      `json:"id"`
	Question     string      `json:"question"`
	ConditionID  string      `json:"conditionId"`
	Slug         string      `json:"slug"`
	Active       flexBool    `json:"active"`
	Closed       bool        `json:"closed"`
	Outcomes     flexStrings `json:"outcomes"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
}

// UpDownPair extracts the [Up, Down] token ids. Outcomes, when present,
// decide the order; otherwise the first token is Up.
func (m *APIMarket) UpDownPair() (domain.AssetPair, bool) {
	if len(m.ClobTokenIDs) < 2 {
		return domain.AssetPair{}, false
	}
	pair := domain.AssetPair{Up: m.ClobTokenIDs[0], Down: m.ClobTokenIDs[1]}
	if len(m.Outcomes) >= 2 && strings.EqualFold(m.Outcomes[0], "down") {
		pair.Up, pair.Down = pair.Down, pair.Up
	}
	return pair, pair.Up != "" && pair.Down != ""
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Buys      []WSPriceLevel `json:"buys"`
	Sells     []WSPriceLevel `json:"sells"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries incremental level updates. Newer payloads put
// the asset id on every entry of price_changes; older ones carry a single
// asset_id with a changes list.
type PriceChangeMessage struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	PriceChanges []WSPriceChange `json:"price_changes"`
	Changes      []WSPriceChange `json:"changes"`
	Timestamp    string          `json:"timestamp"`
}

// WSPriceChange is one level update.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" means level removed
}

// WSMarketSubscribe is the initial subscription sent on the market channel.
type WSMarketSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// WSOperation adds or removes assets on a live connection.
type WSOperation struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// BookToDomainSnapshot converts a book message. Levels that fail to parse
// are skipped.
func BookToDomainSnapshot(b *BookMessage) domain.BookSnapshot {
	bids, asks := b.Bids, b.Asks
	if len(bids) == 0 {
		bids = b.Buys
	}
	if len(asks) == 0 {
		asks = b.Sells
	}
	return domain.BookSnapshot{
		AssetID:   b.AssetID,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: parseTimestamp(b.Timestamp),
	}
}

func toLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// PriceChangeToDomain groups the level updates of a message by asset, in
// first-seen order.
func PriceChangeToDomain(p *PriceChangeMessage) []domain.BookDelta {
	entries := p.PriceChanges
	if len(entries) == 0 {
		entries = p.Changes
	}
	ts := parseTimestamp(p.Timestamp)

	var deltas []domain.BookDelta
	index := make(map[string]int)
	for _, e := range entries {
		assetID := e.AssetID
		if assetID == "" {
			assetID = p.AssetID
		}
		if assetID == "" {
			continue
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(e.Size)
		if err != nil {
			continue
		}
		side := domain.SideSell
		if strings.EqualFold(e.Side, "BUY") {
			side = domain.SideBuy
		}
		i, ok := index[assetID]
		if !ok {
			i = len(deltas)
			index[assetID] = i
			deltas = append(deltas, domain.BookDelta{AssetID: assetID, Timestamp: ts})
		}
		deltas[i].Changes = append(deltas[i].Changes, domain.LevelChange{Side: side, Price: price, Size: size})
	}
	return deltas
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339 and
// falls back to the local clock.
func parseTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
