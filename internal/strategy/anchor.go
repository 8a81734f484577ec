package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// AnchorWindow keeps the samples of the trailing flash window for one
// direction. Samples arrive in time order.
type AnchorWindow struct {
	span        time.Duration
	windowStart int64
	samples     []domain.PricePoint
}

// NewAnchorWindow creates an AnchorWindow spanning span.
func NewAnchorWindow(span time.Duration) *AnchorWindow {
	return &AnchorWindow{span: span}
}

// Push appends a sample and evicts every sample older than span relative to
// it. A sample exactly span old is kept.
func (a *AnchorWindow) Push(p domain.PricePoint) {
	a.samples = append(a.samples, p)
	a.evict(p.Time)
}

func (a *AnchorWindow) evict(now time.Time) {
	cutoff := now.Add(-a.span)
	i := 0
	for i < len(a.samples) && a.samples[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.samples = append(a.samples[:0], a.samples[i:]...)
	}
}

// Extreme returns the maximum-price sample for rebound and the minimum-price
// sample for pump. The earliest sample wins ties.
func (a *AnchorWindow) Extreme(v domain.Variant) (domain.PricePoint, bool) {
	if len(a.samples) == 0 {
		return domain.PricePoint{}, false
	}
	best := a.samples[0]
	for _, s := range a.samples[1:] {
		c := s.Price.Cmp(best.Price)
		if (v == domain.VariantPump && c < 0) || (v != domain.VariantPump && c > 0) {
			best = s
		}
	}
	return best, true
}

// Bind ties the window to a market window start, clearing samples that
// belong to a different one.
func (a *AnchorWindow) Bind(windowStart int64) {
	if a.windowStart != windowStart {
		a.Reset()
		a.windowStart = windowStart
	}
}

// Len returns the number of samples held.
func (a *AnchorWindow) Len() int { return len(a.samples) }

// Reset drops every sample.
func (a *AnchorWindow) Reset() { a.samples = a.samples[:0] }
