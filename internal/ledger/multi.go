package ledger

import (
	"context"
	"errors"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Multi fans a record out to every sink. Every sink is tried; failures are
// joined.
type Multi []domain.TradeLedger

// Append implements domain.TradeLedger.
func (m Multi) Append(ctx context.Context, rec domain.TradeRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
