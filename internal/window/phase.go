package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Leads are the end-of-window gating intervals of a timeframe. Zero leads
// keep the window active for its whole duration.
type Leads struct {
	StopBuy     time.Duration
	Liquidation time.Duration
}

// DefaultLeads returns the gating used for each timeframe.
func DefaultLeads() map[domain.Timeframe]Leads {
	return map[domain.Timeframe]Leads{
		domain.Timeframe15m: {StopBuy: 3 * time.Minute, Liquidation: time.Minute},
		domain.Timeframe1h:  {},
	}
}

// PhaseAt derives the lifecycle phase of a window purely from now.
func PhaseAt(key domain.WindowKey, now time.Time, leads Leads) domain.Phase {
	elapsed := now.Sub(key.StartTime())
	d := key.Timeframe.Duration()
	switch {
	case elapsed < 0:
		return domain.PhaseWarmup
	case elapsed >= d:
		return domain.PhaseEnded
	case elapsed >= d-leads.Liquidation:
		return domain.PhaseLiquidation
	case elapsed >= d-leads.Liquidation-leads.StopBuy:
		return domain.PhaseStopBuy
	default:
		return domain.PhaseActive
	}
}

// CurrentStart returns the start of the window containing now.
func CurrentStart(tf domain.Timeframe, now time.Time) int64 {
	secs := int64(tf.Duration() / time.Second)
	if secs == 0 {
		return 0
	}
	ts := now.Unix()
	return ts - ts%secs
}

// Slug builds the market slug of an asset's Up/Down event for a window.
func Slug(asset string, key domain.WindowKey) string {
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(asset), key.Timeframe, key.Start)
}
