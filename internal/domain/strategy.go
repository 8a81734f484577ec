package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Variant selects the anchor rule of a strategy instance.
type Variant string

const (
	// VariantRebound buys after a sharp drop from the recent maximum.
	VariantRebound Variant = "rebound"
	// VariantPump buys after a sharp rise from the recent minimum.
	VariantPump Variant = "pump"
)

// ParseVariant maps a config string onto a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantRebound, VariantPump:
		return Variant(s), nil
	case "":
		return VariantRebound, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Direction is one side of an Up/Down market.
type Direction string

const (
	DirectionUp   Direction = "Up"
	DirectionDown Direction = "Down"
)

// Directions lists both directions in their canonical order.
var Directions = [2]Direction{DirectionUp, DirectionDown}

// InstanceParams are the tunables of one strategy instance.
type InstanceParams struct {
	FlashWindow      time.Duration
	TriggerThreshold decimal.Decimal
	TakeProfit       decimal.Decimal
	StopLoss         decimal.Decimal
}

// Instance is one configured strategy worker.
type Instance struct {
	ID      string
	Asset   string
	Variant Variant
	Params  InstanceParams
	Output  string
}

// Tick is the market frame delivered to one worker.
type Tick struct {
	InstanceID         string
	WindowStart        int64
	Now                time.Time
	IsStopBuyPhase     bool
	IsLiquidationPhase bool
	Up                 Quote
	Down               Quote
}

// Quote returns the quote for the given direction.
func (t Tick) Quote(d Direction) Quote {
	if d == DirectionDown {
		return t.Down
	}
	return t.Up
}

// MarketFrame is one throttled snapshot of the primary window for every asset.
type MarketFrame struct {
	WindowStart        int64
	Now                time.Time
	IsStopBuyPhase     bool
	IsLiquidationPhase bool
	Quotes             map[string]AssetQuotes
}

// AssetQuotes is the best ask of each direction for one asset.
type AssetQuotes struct {
	Up   Quote
	Down Quote
}

// TickFor projects the frame onto one instance.
func (f MarketFrame) TickFor(inst Instance) Tick {
	q := f.Quotes[inst.Asset]
	return Tick{
		InstanceID:         inst.ID,
		WindowStart:        f.WindowStart,
		Now:                f.Now,
		IsStopBuyPhase:     f.IsStopBuyPhase,
		IsLiquidationPhase: f.IsLiquidationPhase,
		Up:                 q.Up,
		Down:               q.Down,
	}
}

// PricePoint is a timestamped best-ask sample.
type PricePoint struct {
	Time  time.Time
	Price decimal.Decimal
	Size  decimal.Decimal
}

// PendingPosition is a simulated open position.
type PendingPosition struct {
	Direction   Direction
	WindowStart int64
	Anchor      PricePoint
	Buy         PricePoint
}

// ExitStatus is the reason a position was closed.
type ExitStatus string

const (
	ExitTakeProfit ExitStatus = "TAKE_PROFIT"
	ExitStopLoss   ExitStatus = "STOP_LOSS"
	ExitForceClear ExitStatus = "FORCE_CLEAR"
)

// TradeRecord is one completed simulated round trip.
type TradeRecord struct {
	ID          string
	InstanceID  string
	Variant     Variant
	WindowStart int64
	Asset       string
	Direction   Direction
	Anchor      PricePoint
	Buy         PricePoint
	Sell        PricePoint
	Status      ExitStatus
	Params      InstanceParams
}

// PnL returns sell minus buy price.
func (r TradeRecord) PnL() decimal.Decimal { return r.Sell.Price.Sub(r.Buy.Price) }

// EventType names a worker-to-coordinator message.
type EventType string

const (
	EventPositionOpened EventType = "POSITION_OPENED"
	EventTradeCompleted EventType = "TRADE_COMPLETED"
	EventHeartbeat      EventType = "HEARTBEAT"
)

// WorkerEvent is an observational message emitted by a worker.
type WorkerEvent struct {
	Type            EventType
	InstanceID      string
	Time            time.Time
	Position        *PendingPosition
	Trade           *TradeRecord
	HasUpPosition   bool
	HasDownPosition bool
}
