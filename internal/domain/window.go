package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the length class of a prediction window.
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Duration returns the window length for the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	default:
		return 0
	}
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case Timeframe15m, Timeframe1h:
		return Timeframe(s), nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// WindowKey identifies a window by its start (unix seconds) and timeframe.
type WindowKey struct {
	Start     int64
	Timeframe Timeframe
}

// StartTime returns the window start as a time.Time.
func (k WindowKey) StartTime() time.Time { return time.Unix(k.Start, 0) }

// End returns the window end (exclusive).
func (k WindowKey) End() time.Time { return k.StartTime().Add(k.Timeframe.Duration()) }

func (k WindowKey) String() string { return fmt.Sprintf("%s@%d", k.Timeframe, k.Start) }

// Phase is the lifecycle stage of a window relative to wall-clock time.
type Phase string

const (
	PhaseWarmup      Phase = "warmup"
	PhaseActive      Phase = "active"
	PhaseStopBuy     Phase = "stop_buy"
	PhaseLiquidation Phase = "liquidation"
	PhaseEnded       Phase = "ended"
)

// AssetPair holds the two token ids of one asset's Up/Down market.
type AssetPair struct {
	Up   string
	Down string
}

// TokenIDs returns both ids, Up first.
func (p AssetPair) TokenIDs() []string { return []string{p.Up, p.Down} }

// WindowView is a read-only copy of a window's state.
type WindowView struct {
	Key      WindowKey
	Phase    Phase
	Assets   map[string]AssetPair
	Pending  bool
	Saved    bool
	Slugs    map[string]string
	Resolved int
}

// AssetExtremes are the best-ask statistics of one asset/direction over a
// window. Zero times mean the event never happened.
type AssetExtremes struct {
	Asset      string
	Direction  Direction
	Min        decimal.Decimal
	MinTime    time.Time
	Max        decimal.Decimal
	MaxTime    time.Time
	FirstBelow time.Time
	LastBelow  time.Time
	FirstAbove time.Time
	LastAbove  time.Time
}

// PairMinimum is the lowest observed UpAsk(A)+DownAsk(B) combination cost.
type PairMinimum struct {
	Pair  string
	Label string
	Sum   decimal.Decimal
	Time  time.Time
}

// WindowSummary is the aggregate data flushed when a window retires.
type WindowSummary struct {
	Key      WindowKey
	Extremes []AssetExtremes
	Pairs    []PairMinimum
}
