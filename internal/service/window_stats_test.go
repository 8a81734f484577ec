package service

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type markerSpy struct{ keys []domain.WindowKey }

func (m *markerSpy) MarkPending(k domain.WindowKey) { m.keys = append(m.keys, k) }

type archiveSpy struct {
	got []domain.WindowSummary
	err error
}

func (a *archiveSpy) ArchiveWindow(_ context.Context, s domain.WindowSummary) error {
	a.got = append(a.got, s)
	return a.err
}

func q(p string) domain.Quote { return domain.Quote{Price: dec(p), Size: dec("1"), Valid: true} }

func statsFrame(at time.Time, btcUp, btcDown, ethUp, ethDown string) domain.MarketFrame {
	return domain.MarketFrame{
		WindowStart: start,
		Now:         at,
		Quotes: map[string]domain.AssetQuotes{
			"BTC": {Up: q(btcUp), Down: q(btcDown)},
			"ETH": {Up: q(ethUp), Down: q(ethDown)},
		},
	}
}

func TestWindowStatsFlush(t *testing.T) {
	dir := t.TempDir()
	marker := &markerSpy{}
	arch := &archiveSpy{err: errors.New("s3 down")}
	s := NewWindowStats(WindowStatsConfig{
		Assets:       []string{"BTC", "ETH"},
		Location:     time.UTC,
		ExtremesPath: filepath.Join(dir, "single_asset_extremes.csv"),
		PairsPath:    filepath.Join(dir, "market_min_prices.csv"),
	}, marker, arch, discard())

	t0 := time.Unix(start, 0).Add(time.Minute)
	s.OnFrame(statsFrame(t0, "0.55", "0.47", "0.52", "0.49"))
	s.OnFrame(statsFrame(t0.Add(time.Second), "0.35", "0.66", "0.50", "0.51"))
	s.OnFrame(statsFrame(t0.Add(2*time.Second), "0.45", "0.56", "0.52", "0.49"))
	require.Len(t, marker.keys, 1, "pending marked once per window")

	sum, ok := s.Summary(start)
	require.True(t, ok)
	require.Len(t, sum.Extremes, 4)
	btcUp := sum.Extremes[0]
	assert.Equal(t, "0.35", btcUp.Min.String())
	assert.Equal(t, t0.Add(time.Second), btcUp.MinTime)
	assert.Equal(t, "0.55", btcUp.Max.String())
	assert.Equal(t, t0.Add(time.Second), btcUp.FirstBelow)
	assert.True(t, btcUp.FirstAbove.IsZero())

	// BTC Up + ETH Down: min(0.55+0.49, 0.35+0.51, 0.45+0.49) = 0.86.
	require.Len(t, sum.Pairs, 2)
	assert.Equal(t, "BTC Up + ETH Down", sum.Pairs[0].Label)
	assert.Equal(t, "0.86", sum.Pairs[0].Sum.String())

	key := domain.WindowKey{Start: start, Timeframe: domain.Timeframe15m}
	require.NoError(t, s.FlushWindow(context.Background(), key), "archive errors are not fatal")
	require.Len(t, arch.got, 1)
	_, ok = s.Summary(start)
	assert.False(t, ok)

	rows := readAll(t, filepath.Join(dir, "single_asset_extremes.csv"))
	require.Len(t, rows, 5)
	assert.Equal(t, ExtremesHeader, rows[0])
	assert.Equal(t, "2023/11/14 22:15", rows[1][0])

	pairs := readAll(t, filepath.Join(dir, "market_min_prices.csv"))
	require.Len(t, pairs, 3)
	assert.Equal(t, []string{"2023/11/14 22:15", "BTC & ETH", "BTC Up + ETH Down", "0.860", "2023/11/14 22:16:01", "0"}, pairs[1])

	// Flushing again is a no-op.
	require.NoError(t, s.FlushWindow(context.Background(), key))
	assert.Len(t, readAll(t, filepath.Join(dir, "market_min_prices.csv")), 3)
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWindowStatsRetryWritesEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	extremesPath := filepath.Join(dir, "single_asset_extremes.csv")
	pairsPath := filepath.Join(dir, "market_min_prices.csv")
	// A directory at the pairs path makes the pairs append fail.
	require.NoError(t, os.Mkdir(pairsPath, 0o755))

	s := NewWindowStats(WindowStatsConfig{
		Assets:       []string{"BTC", "ETH"},
		Location:     time.UTC,
		ExtremesPath: extremesPath,
		PairsPath:    pairsPath,
	}, nil, nil, discard())
	s.OnFrame(statsFrame(time.Unix(start, 0).Add(time.Minute), "0.55", "0.47", "0.52", "0.49"))

	key := domain.WindowKey{Start: start, Timeframe: domain.Timeframe15m}
	require.Error(t, s.FlushWindow(context.Background(), key))
	_, ok := s.Summary(start)
	require.True(t, ok, "a failed flush keeps the window")

	require.NoError(t, os.Remove(pairsPath))
	require.NoError(t, s.FlushWindow(context.Background(), key))

	extremes := readAll(t, extremesPath)
	require.Len(t, extremes, 5, "extremes written once")
	assert.Equal(t, "0", extremes[1][len(ExtremesHeader)-1])

	pairs := readAll(t, pairsPath)
	require.Len(t, pairs, 3)
	assert.Equal(t, "1", pairs[1][len(PairsHeader)-1], "retry count carried into the retried file")
}
