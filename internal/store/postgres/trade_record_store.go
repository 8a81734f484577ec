package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL. It
// is a second ledger sink next to the CSV file.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a new TradeRecordStore backed by the given
// connection pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `id, instance_id, variant, window_start, asset, direction,
	anchor_time, anchor_price, buy_time, buy_price, buy_size, sell_time, sell_price,
	status, flash_window_ms, trigger_threshold, tp_distance, sl_distance`

// Append inserts rec. Re-appending the same record id is a no-op.
func (s *TradeRecordStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (` + tradeRecordCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.InstanceID, string(rec.Variant), rec.WindowStart, rec.Asset, string(rec.Direction),
		rec.Anchor.Time, rec.Anchor.Price, rec.Buy.Time, rec.Buy.Price, rec.Buy.Size,
		rec.Sell.Time, rec.Sell.Price, string(rec.Status),
		rec.Params.FlashWindow.Milliseconds(), rec.Params.TriggerThreshold,
		rec.Params.TakeProfit, rec.Params.StopLoss,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade record %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns trade records ordered by sell time, newest first.
func (s *TradeRecordStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := windowed(`SELECT `+tradeRecordCols+` FROM trade_records`, "sell_time", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			r                          domain.TradeRecord
			variant, direction, status string
			flashMs                    int64
		)
		if err := rows.Scan(
			&r.ID, &r.InstanceID, &variant, &r.WindowStart, &r.Asset, &direction,
			&r.Anchor.Time, &r.Anchor.Price, &r.Buy.Time, &r.Buy.Price, &r.Buy.Size,
			&r.Sell.Time, &r.Sell.Price, &status,
			&flashMs, &r.Params.TriggerThreshold, &r.Params.TakeProfit, &r.Params.StopLoss,
		); err != nil {
			return nil, err
		}
		r.Variant = domain.Variant(variant)
		r.Direction = domain.Direction(direction)
		r.Status = domain.ExitStatus(status)
		r.Params.FlashWindow = time.Duration(flashMs) * time.Millisecond
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
