package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeLedger is an append-only sink for completed trades.
type TradeLedger interface {
	Append(ctx context.Context, rec TradeRecord) error
}

// TradeRecordStore persists completed trades for querying.
type TradeRecordStore interface {
	TradeLedger
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

// AuditEntry is a row of the audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore appends operational events to a durable log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
