package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const win = int64(1_700_000_100)

var t0 = time.Unix(win, 0).Add(time.Minute)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testInstance(v domain.Variant) domain.Instance {
	return domain.Instance{
		ID:      "btc-" + string(v),
		Asset:   "BTC",
		Variant: v,
		Params: domain.InstanceParams{
			FlashWindow:      10 * time.Second,
			TriggerThreshold: d("0.08"),
			TakeProfit:       d("0.05"),
			StopLoss:         d("0.05"),
		},
	}
}

func upTick(at time.Time, price string) domain.Tick {
	return domain.Tick{
		WindowStart: win,
		Now:         at,
		Up:          domain.Quote{Price: d(price), Size: d("10"), Valid: true},
	}
}

func openRebound(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	assert.Nil(t, m.Step(upTick(t0, "0.50")).Opened)
	assert.Nil(t, m.Step(upTick(t0.Add(time.Second), "0.49")).Opened)
	tr := m.Step(upTick(t0.Add(2*time.Second), "0.41"))
	require.NotNil(t, tr.Opened)
	return m
}

func TestReboundOpensOnDrop(t *testing.T) {
	m := openRebound(t)
	assert.Equal(t, StateHolding, m.State())
	pos, ok := m.Pending()
	require.True(t, ok)
	assert.True(t, pos.Anchor.Price.Equal(d("0.50")))
	assert.Equal(t, t0, pos.Anchor.Time)
	assert.True(t, pos.Buy.Price.Equal(d("0.41")))
	assert.Equal(t, t0.Add(2*time.Second), pos.Buy.Time)
	assert.Equal(t, 0, m.anchor.Len(), "anchor window cleared on entry")
}

func TestHoldingExits(t *testing.T) {
	cases := []struct {
		name   string
		tick   domain.Tick
		status domain.ExitStatus
	}{
		{"take profit", upTick(t0.Add(3*time.Second), "0.46"), domain.ExitTakeProfit},
		{"stop loss", upTick(t0.Add(3*time.Second), "0.36"), domain.ExitStopLoss},
		{"liquidation preempts take profit", func() domain.Tick {
			tk := upTick(t0.Add(3*time.Second), "0.90")
			tk.IsLiquidationPhase = true
			return tk
		}(), domain.ExitForceClear},
		{"liquidation at flat price", func() domain.Tick {
			tk := upTick(t0.Add(3*time.Second), "0.41")
			tk.IsLiquidationPhase = true
			return tk
		}(), domain.ExitForceClear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := openRebound(t)
			tr := m.Step(tc.tick)
			require.NotNil(t, tr.Closed)
			assert.Equal(t, tc.status, tr.Closed.Status)
			assert.True(t, tr.Closed.Buy.Price.Equal(d("0.41")))
			assert.True(t, tr.Closed.Sell.Price.Equal(tc.tick.Up.Price))
			assert.Equal(t, domain.VariantRebound, tr.Closed.Variant)
			assert.NotEmpty(t, tr.Closed.ID)
			assert.Equal(t, StateScanning, m.State())
			_, open := m.Pending()
			assert.False(t, open)
		})
	}
}

func TestHoldingIgnoresPricesInsideBand(t *testing.T) {
	m := openRebound(t)
	for _, p := range []string{"0.45", "0.37", "0.41"} {
		tr := m.Step(upTick(t0.Add(3*time.Second), p))
		assert.Nil(t, tr.Closed, p)
		assert.Nil(t, tr.Opened, p)
	}
	assert.Equal(t, StateHolding, m.State())
}

func TestNoSecondPositionWhileHolding(t *testing.T) {
	m := openRebound(t)
	// Another sharp drop inside the band of nothing: still a single position.
	tr := m.Step(upTick(t0.Add(3*time.Second), "0.40"))
	assert.Nil(t, tr.Opened)
	pos, _ := m.Pending()
	assert.True(t, pos.Buy.Price.Equal(d("0.41")))
}

func TestStopBuyBlocksEntry(t *testing.T) {
	m := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	m.Step(upTick(t0, "0.50"))
	tk := upTick(t0.Add(time.Second), "0.30")
	tk.IsStopBuyPhase = true
	assert.Nil(t, m.Step(tk).Opened)
	assert.Equal(t, StateScanning, m.State())
	assert.Equal(t, 1, m.anchor.Len(), "gated ticks are not sampled")
}

func TestStaleSamplesEvicted(t *testing.T) {
	m := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	m.Step(upTick(t0, "0.50"))
	tr := m.Step(upTick(t0.Add(11*time.Second), "0.41"))
	assert.Nil(t, tr.Opened, "anchor older than flash window is gone")
	assert.Equal(t, 1, m.anchor.Len())

	// A sample exactly one flash window old is still kept.
	m2 := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	m2.Step(upTick(t0, "0.50"))
	assert.NotNil(t, m2.Step(upTick(t0.Add(10*time.Second), "0.42")).Opened)
}

func TestPumpOpensOnRise(t *testing.T) {
	m := NewMachine(testInstance(domain.VariantPump), domain.DirectionUp)
	m.Step(upTick(t0, "0.30"))
	m.Step(upTick(t0.Add(time.Second), "0.32"))
	tr := m.Step(upTick(t0.Add(2*time.Second), "0.38"))
	require.NotNil(t, tr.Opened)
	assert.True(t, tr.Opened.Anchor.Price.Equal(d("0.30")))
	assert.True(t, tr.Opened.Buy.Price.Equal(d("0.38")))
}

func TestInvalidQuoteSkipped(t *testing.T) {
	m := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	m.Step(upTick(t0, "0.50"))
	tr := m.Step(domain.Tick{WindowStart: win, Now: t0.Add(time.Second)})
	assert.Equal(t, Transition{}, tr)
	assert.Equal(t, 1, m.anchor.Len())
}

func TestWindowRolloverForceClears(t *testing.T) {
	m := openRebound(t)
	m.Step(upTick(t0.Add(3*time.Second), "0.43"))

	next := domain.Tick{WindowStart: win + 900, Now: t0.Add(15 * time.Minute)}
	tr := m.Step(next)
	require.NotNil(t, tr.Closed)
	assert.Equal(t, domain.ExitForceClear, tr.Closed.Status)
	assert.True(t, tr.Closed.Sell.Price.Equal(d("0.43")))
	assert.Equal(t, win, tr.Closed.WindowStart)
}

func TestAnchorResetOnNewWindow(t *testing.T) {
	m := NewMachine(testInstance(domain.VariantRebound), domain.DirectionUp)
	m.Step(upTick(t0, "0.50"))
	tk := upTick(t0.Add(time.Second), "0.40")
	tk.WindowStart = win + 900
	assert.Nil(t, m.Step(tk).Opened)
	assert.Equal(t, 1, m.anchor.Len())
}

func TestExtremeTiesPickEarliest(t *testing.T) {
	a := NewAnchorWindow(10 * time.Second)
	a.Push(domain.PricePoint{Time: t0, Price: d("0.5")})
	a.Push(domain.PricePoint{Time: t0.Add(time.Second), Price: d("0.50")})
	a.Push(domain.PricePoint{Time: t0.Add(2 * time.Second), Price: d("0.2")})
	hi, ok := a.Extreme(domain.VariantRebound)
	require.True(t, ok)
	assert.Equal(t, t0, hi.Time)
	lo, _ := a.Extreme(domain.VariantPump)
	assert.True(t, lo.Price.Equal(d("0.2")))
}
