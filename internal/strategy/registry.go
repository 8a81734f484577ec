package strategy

import (
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Worker statuses reported by the registry.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// InstanceInfo holds runtime info for a strategy instance (for status APIs).
type InstanceInfo struct {
	ID              string     `json:"id"`
	Asset           string     `json:"asset"`
	Variant         string     `json:"variant"`
	Status          string     `json:"status"`
	HasUpPosition   bool       `json:"has_up_position"`
	HasDownPosition bool       `json:"has_down_position"`
	TicksDelivered  int64      `json:"ticks_delivered"`
	TicksDropped    int64      `json:"ticks_dropped"`
	PositionsOpened int64      `json:"positions_opened"`
	TradesCompleted int64      `json:"trades_completed"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Registry tracks the runtime info of every instance in configuration
// order. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	infos map[string]*InstanceInfo
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{infos: make(map[string]*InstanceInfo)}
}

// Register adds an instance in pending status.
func (r *Registry) Register(inst domain.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.infos[inst.ID]; !ok {
		r.order = append(r.order, inst.ID)
	}
	r.infos[inst.ID] = &InstanceInfo{
		ID:      inst.ID,
		Asset:   inst.Asset,
		Variant: string(inst.Variant),
		Status:  StatusPending,
	}
}

// SetStatus updates an instance's status and, when err is non-nil, its last
// error.
func (r *Registry) SetStatus(id, status string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	info.Status = status
	if err != nil {
		info.LastError = err.Error()
	}
}

// CountDelivery records one dispatched tick.
func (r *Registry) CountDelivery(id string, delivered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	if delivered {
		info.TicksDelivered++
	} else {
		info.TicksDropped++
	}
}

// Observe folds a worker event into the instance's info.
func (r *Registry) Observe(ev domain.WorkerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[ev.InstanceID]
	if !ok {
		return
	}
	switch ev.Type {
	case domain.EventPositionOpened:
		info.PositionsOpened++
		if ev.Position != nil {
			setHolding(info, ev.Position.Direction, true)
		}
	case domain.EventTradeCompleted:
		info.TradesCompleted++
		if ev.Trade != nil {
			setHolding(info, ev.Trade.Direction, false)
		}
	case domain.EventHeartbeat:
		ts := ev.Time
		info.LastHeartbeat = &ts
		info.HasUpPosition = ev.HasUpPosition
		info.HasDownPosition = ev.HasDownPosition
	}
}

func setHolding(info *InstanceInfo, dir domain.Direction, v bool) {
	if dir == domain.DirectionDown {
		info.HasDownPosition = v
	} else {
		info.HasUpPosition = v
	}
}

// Get returns a copy of one instance's info.
func (r *Registry) Get(id string) (InstanceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[id]
	if !ok {
		return InstanceInfo{}, false
	}
	return *info, true
}

// ListInfo returns runtime info for all instances in configuration order.
func (r *Registry) ListInfo() []InstanceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]InstanceInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.infos[id])
	}
	return out
}
