package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/ledger"
)

var (
	lowMark  = decimal.RequireFromString("0.40")
	highMark = decimal.RequireFromString("0.60")
)

// ExtremesHeader is the column order of single_asset_extremes.csv.
var ExtremesHeader = []string{
	"window_start", "asset", "direction",
	"min_ask", "min_ask_time", "max_ask", "max_ask_time",
	"first_below_04", "last_below_04", "first_above_06", "last_above_06",
	"retry_count",
}

// PairsHeader is the column order of market_min_prices.csv.
var PairsHeader = []string{
	"window_start", "pair", "combination_type", "min_sum_price", "occurrence_time", "retry_count",
}

// PendingMarker is told when a window starts holding unflushed data.
type PendingMarker interface {
	MarkPending(key domain.WindowKey)
}

// SummaryArchiver ships a flushed window summary to cold storage.
type SummaryArchiver interface {
	ArchiveWindow(ctx context.Context, summary domain.WindowSummary) error
}

type windowAgg struct {
	extremes map[string]*domain.AssetExtremes
	pairs    map[string]*domain.PairMinimum

	// Flush progress. A file already written is skipped when a failed
	// flush is retried; retries counts failed attempts.
	extremesSaved bool
	pairsSaved    bool
	retries       int
}

// WindowStats aggregates per-window best-ask statistics from market frames
// and writes them out when the window retires.
type WindowStats struct {
	timeframe domain.Timeframe
	assets    []string
	loc       *time.Location
	extremes  *ledger.CSVFile
	pairs     *ledger.CSVFile
	marker    PendingMarker
	archiver  SummaryArchiver
	logger    *slog.Logger

	mu      sync.Mutex
	windows map[int64]*windowAgg
}

// WindowStatsConfig configures WindowStats.
type WindowStatsConfig struct {
	Timeframe    domain.Timeframe
	Assets       []string
	Location     *time.Location
	ExtremesPath string
	PairsPath    string
}

// NewWindowStats creates a WindowStats. marker and archiver may be nil.
func NewWindowStats(cfg WindowStatsConfig, marker PendingMarker, archiver SummaryArchiver, logger *slog.Logger) *WindowStats {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.Timeframe15m
	}
	return &WindowStats{
		timeframe: cfg.Timeframe,
		assets:    cfg.Assets,
		loc:       cfg.Location,
		extremes:  ledger.NewCSVFile(cfg.ExtremesPath, ExtremesHeader),
		pairs:     ledger.NewCSVFile(cfg.PairsPath, PairsHeader),
		marker:    marker,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "window_stats")),
		windows:   make(map[int64]*windowAgg),
	}
}

// OnFrame folds one frame into its window's aggregate.
func (s *WindowStats) OnFrame(frame domain.MarketFrame) {
	s.mu.Lock()
	agg, ok := s.windows[frame.WindowStart]
	if !ok {
		agg = &windowAgg{
			extremes: make(map[string]*domain.AssetExtremes),
			pairs:    make(map[string]*domain.PairMinimum),
		}
		s.windows[frame.WindowStart] = agg
	}
	for _, asset := range s.assets {
		q := frame.Quotes[asset]
		s.observe(agg, asset, domain.DirectionUp, q.Up, frame.Now)
		s.observe(agg, asset, domain.DirectionDown, q.Down, frame.Now)
	}
	for i, a := range s.assets {
		for _, b := range s.assets[i+1:] {
			qa, qb := frame.Quotes[a], frame.Quotes[b]
			pair := a + " & " + b
			s.observePair(agg, pair, a+" Up + "+b+" Down", qa.Up, qb.Down, frame.Now)
			s.observePair(agg, pair, b+" Up + "+a+" Down", qb.Up, qa.Down, frame.Now)
		}
	}
	s.mu.Unlock()

	if !ok && s.marker != nil {
		s.marker.MarkPending(domain.WindowKey{Start: frame.WindowStart, Timeframe: s.timeframe})
	}
}

func (s *WindowStats) observe(agg *windowAgg, asset string, dir domain.Direction, q domain.Quote, now time.Time) {
	if !q.Valid {
		return
	}
	key := asset + "_" + string(dir)
	e, ok := agg.extremes[key]
	if !ok {
		e = &domain.AssetExtremes{Asset: asset, Direction: dir, Min: q.Price, MinTime: now, Max: q.Price, MaxTime: now}
		agg.extremes[key] = e
	}
	if q.Price.LessThan(e.Min) {
		e.Min, e.MinTime = q.Price, now
	}
	if q.Price.GreaterThan(e.Max) {
		e.Max, e.MaxTime = q.Price, now
	}
	if q.Price.LessThan(lowMark) {
		if e.FirstBelow.IsZero() {
			e.FirstBelow = now
		}
		e.LastBelow = now
	}
	if q.Price.GreaterThan(highMark) {
		if e.FirstAbove.IsZero() {
			e.FirstAbove = now
		}
		e.LastAbove = now
	}
}

func (s *WindowStats) observePair(agg *windowAgg, pair, label string, up, down domain.Quote, now time.Time) {
	if !up.Valid || !down.Valid {
		return
	}
	sum := up.Price.Add(down.Price)
	p, ok := agg.pairs[label]
	if !ok || sum.LessThan(p.Sum) {
		agg.pairs[label] = &domain.PairMinimum{Pair: pair, Label: label, Sum: sum, Time: now}
	}
}

// Summary returns the current aggregate of a window.
func (s *WindowStats) Summary(start int64) (domain.WindowSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.windows[start]
	if !ok {
		return domain.WindowSummary{}, false
	}
	return s.summaryLocked(start, agg), true
}

func (s *WindowStats) summaryLocked(start int64, agg *windowAgg) domain.WindowSummary {
	sum := domain.WindowSummary{Key: domain.WindowKey{Start: start, Timeframe: s.timeframe}}
	for _, asset := range s.assets {
		for _, dir := range domain.Directions {
			if e, ok := agg.extremes[asset+"_"+string(dir)]; ok {
				sum.Extremes = append(sum.Extremes, *e)
			}
		}
	}
	for _, p := range agg.pairs {
		sum.Pairs = append(sum.Pairs, *p)
	}
	sort.Slice(sum.Pairs, func(i, j int) bool {
		if sum.Pairs[i].Pair != sum.Pairs[j].Pair {
			return sum.Pairs[i].Pair < sum.Pairs[j].Pair
		}
		return sum.Pairs[i].Label < sum.Pairs[j].Label
	})
	return sum
}

// FlushWindow writes a window's statistics and forgets them. Windows of
// other timeframes, or without data, flush trivially. An archive failure is
// logged only, since the CSV rows are already written.
func (s *WindowStats) FlushWindow(ctx context.Context, key domain.WindowKey) error {
	if key.Timeframe != s.timeframe {
		return nil
	}
	s.mu.Lock()
	agg, ok := s.windows[key.Start]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	summary := s.summaryLocked(key.Start, agg)
	s.mu.Unlock()

	if err := s.write(agg, summary); err != nil {
		s.mu.Lock()
		agg.retries++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	delete(s.windows, key.Start)
	s.mu.Unlock()

	s.logger.Info("window statistics flushed",
		slog.String("window", key.String()),
		slog.Int("extremes", len(summary.Extremes)),
		slog.Int("pairs", len(summary.Pairs)),
	)

	if s.archiver != nil {
		if err := s.archiver.ArchiveWindow(ctx, summary); err != nil {
			s.logger.Warn("window archive failed",
				slog.String("window", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// write appends the files of summary that agg has not saved yet.
func (s *WindowStats) write(agg *windowAgg, summary domain.WindowSummary) error {
	s.mu.Lock()
	extremesDone, pairsDone := agg.extremesSaved, agg.pairsSaved
	retry := strconv.Itoa(agg.retries)
	s.mu.Unlock()

	ws := time.Unix(summary.Key.Start, 0).In(s.loc).Format(ledger.WindowLayout)
	ts := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.In(s.loc).Format(ledger.TimeLayout)
	}

	if !extremesDone {
		rows := make([][]string, 0, len(summary.Extremes))
		for _, e := range summary.Extremes {
			rows = append(rows, []string{
				ws, e.Asset, string(e.Direction),
				e.Min.String(), ts(e.MinTime), e.Max.String(), ts(e.MaxTime),
				ts(e.FirstBelow), ts(e.LastBelow), ts(e.FirstAbove), ts(e.LastAbove),
				retry,
			})
		}
		if err := s.extremes.Append(rows...); err != nil {
			return fmt.Errorf("service: flush extremes %s: %w", summary.Key, err)
		}
		s.mu.Lock()
		agg.extremesSaved = true
		s.mu.Unlock()
	}

	if !pairsDone {
		rows := make([][]string, 0, len(summary.Pairs))
		for _, p := range summary.Pairs {
			rows = append(rows, []string{ws, p.Pair, p.Label, p.Sum.StringFixed(3), ts(p.Time), retry})
		}
		if err := s.pairs.Append(rows...); err != nil {
			return fmt.Errorf("service: flush pair minimums %s: %w", summary.Key, err)
		}
		s.mu.Lock()
		agg.pairsSaved = true
		s.mu.Unlock()
	}
	return nil
}
