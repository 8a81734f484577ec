package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TradeHeader is the column order of the trade ledger.
var TradeHeader = []string{
	"window_start", "asset", "direction",
	"anchor_time", "anchor_price",
	"buy_time", "buy_price",
	"sell_time", "sell_price",
	"status",
	"flash_window", "trigger_threshold", "tp_distance", "sl_distance",
}

// CSVLedger implements domain.TradeLedger over a CSV file.
type CSVLedger struct {
	file *CSVFile
	loc  *time.Location
}

// NewCSVLedger creates a ledger at path rendering times in loc.
func NewCSVLedger(path string, loc *time.Location) *CSVLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVLedger{file: NewCSVFile(path, TradeHeader), loc: loc}
}

// Path returns the ledger file path.
func (l *CSVLedger) Path() string { return l.file.Path() }

// Append writes one row. Errors are returned to the caller; nothing is
// retried.
func (l *CSVLedger) Append(_ context.Context, rec domain.TradeRecord) error {
	return l.file.Append(l.row(rec))
}

func (l *CSVLedger) row(rec domain.TradeRecord) []string {
	ts := func(t time.Time) string { return t.In(l.loc).Format(TimeLayout) }
	return []string{
		time.Unix(rec.WindowStart, 0).In(l.loc).Format(WindowLayout),
		rec.Asset,
		string(rec.Direction),
		ts(rec.Anchor.Time),
		rec.Anchor.Price.String(),
		ts(rec.Buy.Time),
		rec.Buy.Price.String(),
		ts(rec.Sell.Time),
		rec.Sell.Price.String(),
		string(rec.Status),
		strconv.FormatFloat(rec.Params.FlashWindow.Seconds(), 'f', -1, 64),
		rec.Params.TriggerThreshold.String(),
		rec.Params.TakeProfit.String(),
		rec.Params.StopLoss.String(),
	}
}

// Set hands out one CSVLedger per path so instances that share an output
// file share its lock.
type Set struct {
	loc *time.Location
	mu  sync.Mutex
	m   map[string]*CSVLedger
}

// NewSet creates an empty Set.
func NewSet(loc *time.Location) *Set {
	return &Set{loc: loc, m: make(map[string]*CSVLedger)}
}

// For returns the ledger writing to path.
func (s *Set) For(path string) *CSVLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.m[path]; ok {
		return l
	}
	l := NewCSVLedger(path, s.loc)
	s.m[path] = l
	return l
}

// Paths returns every ledger path handed out so far.
func (s *Set) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	return out
}
