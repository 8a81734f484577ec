package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func sampleRecord() domain.TradeRecord {
	start := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	return domain.TradeRecord{
		ID:          "t1",
		InstanceID:  "btc",
		Variant:     domain.VariantRebound,
		WindowStart: start.Unix(),
		Asset:       "BTC",
		Direction:   domain.DirectionUp,
		Anchor:      domain.PricePoint{Time: start.Add(time.Minute), Price: decimal.RequireFromString("0.50")},
		Buy:         domain.PricePoint{Time: start.Add(time.Minute + 2*time.Second), Price: decimal.RequireFromString("0.41")},
		Sell:        domain.PricePoint{Time: start.Add(2 * time.Minute), Price: decimal.RequireFromString("0.46")},
		Status:      domain.ExitTakeProfit,
		Params: domain.InstanceParams{
			FlashWindow:      10 * time.Second,
			TriggerThreshold: decimal.RequireFromString("0.08"),
			TakeProfit:       decimal.RequireFromString("0.05"),
			StopLoss:         decimal.RequireFromString("0.05"),
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVLedgerWritesHeaderOnce(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "out", "trades.csv")
	l := NewCSVLedger(path, loc)

	require.NoError(t, l.Append(context.Background(), sampleRecord()))
	require.NoError(t, NewCSVLedger(path, loc).Append(context.Background(), sampleRecord()))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, TradeHeader, rows[0])
	assert.Equal(t, []string{
		"2025/01/02 11:00", "BTC", "Up",
		"2025/01/02 11:01:00", "0.5",
		"2025/01/02 11:01:02", "0.41",
		"2025/01/02 11:02:00", "0.46",
		"TAKE_PROFIT", "10", "0.08", "0.05", "0.05",
	}, rows[1])
}

func TestCSVLedgerConcurrentAppends(t *testing.T) {
	set := NewSet(time.UTC)
	path := filepath.Join(t.TempDir(), "shared.csv")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, set.For(path).Append(context.Background(), sampleRecord()))
		}()
	}
	wg.Wait()
	assert.Len(t, readCSV(t, path), 21)
	assert.Same(t, set.For(path), set.For(path))
}

func TestCSVLedgerPropagatesErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	l := NewCSVLedger(filepath.Join(blocker, "trades.csv"), time.UTC)
	assert.Error(t, l.Append(context.Background(), sampleRecord()))
}

type closeErrFile struct{ *os.File }

func (f closeErrFile) Close() error {
	_ = f.File.Close()
	return errors.New("no space left on device")
}

func TestCSVFileReturnsCloseError(t *testing.T) {
	orig := openAppend
	t.Cleanup(func() { openAppend = orig })
	openAppend = func(path string) (appendFile, error) {
		f, err := orig(path)
		if err != nil {
			return nil, err
		}
		return closeErrFile{f.(*os.File)}, nil
	}

	path := filepath.Join(t.TempDir(), "trades.csv")
	err := NewCSVLedger(path, time.UTC).Append(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close")
	assert.Contains(t, err.Error(), "no space left on device")
}

type failing struct{ err error }

func (f failing) Append(context.Context, domain.TradeRecord) error { return f.err }

func TestMultiTriesEverySink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.csv")
	boom := errors.New("boom")
	m := Multi{failing{boom}, NewCSVLedger(path, time.UTC)}
	err := m.Append(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, readCSV(t, path), 2)
}
