package strategy

import (
	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// State is the phase of a direction's state machine.
type State string

const (
	StateScanning State = "SCANNING"
	StateHolding  State = "HOLDING"
)

// Transition reports what a Step did. At most one field is set.
type Transition struct {
	Opened *domain.PendingPosition
	Closed *domain.TradeRecord
}

// Machine is the entry/exit state machine of one (instance, direction).
// Step is the only mutator and depends on nothing but the machine's own
// fields and the tick.
type Machine struct {
	inst    domain.Instance
	dir     domain.Direction
	state   State
	anchor  *AnchorWindow
	pending *domain.PendingPosition
	last    domain.PricePoint
}

// NewMachine creates a machine in SCANNING.
func NewMachine(inst domain.Instance, dir domain.Direction) *Machine {
	return &Machine{
		inst:   inst,
		dir:    dir,
		state:  StateScanning,
		anchor: NewAnchorWindow(inst.Params.FlashWindow),
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Pending returns a copy of the open position, if any.
func (m *Machine) Pending() (domain.PendingPosition, bool) {
	if m.pending == nil {
		return domain.PendingPosition{}, false
	}
	return *m.pending, true
}

// Step advances the machine by one tick.
func (m *Machine) Step(t domain.Tick) Transition {
	q := t.Quote(m.dir)

	if m.state == StateHolding {
		// The position's window has been replaced; close it at the last
		// price seen inside its own window.
		if t.WindowStart != m.pending.WindowStart {
			return Transition{Closed: m.close(m.last, domain.ExitForceClear)}
		}
		if !q.Valid {
			return Transition{}
		}
		pt := domain.PricePoint{Time: t.Now, Price: q.Price, Size: q.Size}
		m.last = pt
		buy := m.pending.Buy.Price
		switch {
		case t.IsLiquidationPhase:
			return Transition{Closed: m.close(pt, domain.ExitForceClear)}
		case q.Price.GreaterThanOrEqual(buy.Add(m.inst.Params.TakeProfit)):
			return Transition{Closed: m.close(pt, domain.ExitTakeProfit)}
		case q.Price.LessThanOrEqual(buy.Sub(m.inst.Params.StopLoss)):
			return Transition{Closed: m.close(pt, domain.ExitStopLoss)}
		}
		return Transition{}
	}

	if !q.Valid || t.IsStopBuyPhase || t.IsLiquidationPhase {
		return Transition{}
	}

	pt := domain.PricePoint{Time: t.Now, Price: q.Price, Size: q.Size}
	m.anchor.Bind(t.WindowStart)
	m.anchor.Push(pt)
	if m.anchor.Len() < 2 {
		return Transition{}
	}
	anchor, _ := m.anchor.Extreme(m.inst.Variant)

	move := anchor.Price.Sub(pt.Price)
	if m.inst.Variant == domain.VariantPump {
		move = pt.Price.Sub(anchor.Price)
	}
	if move.LessThan(m.inst.Params.TriggerThreshold) {
		return Transition{}
	}

	m.pending = &domain.PendingPosition{
		Direction:   m.dir,
		WindowStart: t.WindowStart,
		Anchor:      anchor,
		Buy:         pt,
	}
	m.last = pt
	m.anchor.Reset()
	m.state = StateHolding
	opened := *m.pending
	return Transition{Opened: &opened}
}

func (m *Machine) close(sell domain.PricePoint, status domain.ExitStatus) *domain.TradeRecord {
	rec := &domain.TradeRecord{
		ID:          uuid.NewString(),
		InstanceID:  m.inst.ID,
		Variant:     m.inst.Variant,
		WindowStart: m.pending.WindowStart,
		Asset:       m.inst.Asset,
		Direction:   m.dir,
		Anchor:      m.pending.Anchor,
		Buy:         m.pending.Buy,
		Sell:        sell,
		Status:      status,
		Params:      m.inst.Params,
	}
	m.pending = nil
	m.last = domain.PricePoint{}
	m.state = StateScanning
	return rec
}
