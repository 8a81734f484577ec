package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// extremesLine is one JSONL row for an asset/direction.
type extremesLine struct {
	Kind        string `json:"kind"`
	WindowStart int64  `json:"window_start"`
	Timeframe   string `json:"timeframe"`
	Asset       string `json:"asset"`
	Direction   string `json:"direction"`
	MinAsk      string `json:"min_ask"`
	MinAskTime  string `json:"min_ask_time,omitempty"`
	MaxAsk      string `json:"max_ask"`
	MaxAskTime  string `json:"max_ask_time,omitempty"`
	FirstBelow  string `json:"first_below,omitempty"`
	LastBelow   string `json:"last_below,omitempty"`
	FirstAbove  string `json:"first_above,omitempty"`
	LastAbove   string `json:"last_above,omitempty"`
}

// pairLine is one JSONL row for a cross-asset combination.
type pairLine struct {
	Kind        string `json:"kind"`
	WindowStart int64  `json:"window_start"`
	Timeframe   string `json:"timeframe"`
	Pair        string `json:"pair"`
	Combination string `json:"combination"`
	MinSum      string `json:"min_sum"`
	Time        string `json:"time,omitempty"`
}

// WindowArchiver uploads each flushed window summary as one JSONL object.
//
// Objects are keyed as:
//
//	<prefix>/<timeframe>/2006/01/02/<window_start>.jsonl
type WindowArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewWindowArchiver creates a WindowArchiver writing under prefix.
func NewWindowArchiver(writer domain.BlobWriter, prefix string) *WindowArchiver {
	return &WindowArchiver{writer: writer, prefix: prefix}
}

// ArchiveWindow serializes sum and uploads it. Empty summaries are skipped.
func (a *WindowArchiver) ArchiveWindow(ctx context.Context, sum domain.WindowSummary) error {
	if len(sum.Extremes) == 0 && len(sum.Pairs) == 0 {
		return nil
	}
	data, err := marshalSummary(sum)
	if err != nil {
		return fmt.Errorf("s3blob: archive window %s: %w", sum.Key, err)
	}
	key := ArchivePath(a.prefix, sum.Key)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive window %s: %w", sum.Key, err)
	}
	return nil
}

// ArchivePath returns the object key of a window summary.
func ArchivePath(prefix string, key domain.WindowKey) string {
	day := key.StartTime().UTC().Format("2006/01/02")
	return path.Join(prefix, string(key.Timeframe), day, fmt.Sprintf("%d.jsonl", key.Start))
}

func marshalSummary(sum domain.WindowSummary) ([]byte, error) {
	records := make([]any, 0, len(sum.Extremes)+len(sum.Pairs))
	tf := string(sum.Key.Timeframe)
	for _, e := range sum.Extremes {
		records = append(records, extremesLine{
			Kind:        "extremes",
			WindowStart: sum.Key.Start,
			Timeframe:   tf,
			Asset:       e.Asset,
			Direction:   string(e.Direction),
			MinAsk:      e.Min.String(),
			MinAskTime:  stamp(e.MinTime),
			MaxAsk:      e.Max.String(),
			MaxAskTime:  stamp(e.MaxTime),
			FirstBelow:  stamp(e.FirstBelow),
			LastBelow:   stamp(e.LastBelow),
			FirstAbove:  stamp(e.FirstAbove),
			LastAbove:   stamp(e.LastAbove),
		})
	}
	for _, p := range sum.Pairs {
		records = append(records, pairLine{
			Kind:        "pair_min",
			WindowStart: sum.Key.Start,
			Timeframe:   tf,
			Pair:        p.Pair,
			Combination: p.Label,
			MinSum:      p.Sum.String(),
			Time:        stamp(p.Time),
		})
	}
	return marshalJSONL(records)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
