package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/service"
)

// RecentTrades returns up to limit trades completed by this process, newest
// first.
type RecentTrades interface {
	RecentTrades(limit int) []domain.TradeRecord
}

// TradesHandler serves recently completed paper trades, from memory or, with
// ?source=db, from the trade record store.
type TradesHandler struct {
	recent RecentTrades
	store  domain.TradeRecordStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. store may be nil.
func NewTradesHandler(recent RecentTrades, store domain.TradeRecordStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		recent: recent,
		store:  store,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListRecent responds with the most recent trades.
// GET /api/trades/recent?limit=50&source=memory|db
//
// since, until and offset apply to source=db only.
func (h *TradesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var recs []domain.TradeRecord
	switch r.URL.Query().Get("source") {
	case "db":
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "trade record store is not configured")
			return
		}
		recs, err = h.store.ListRecent(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trade records failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	case "", "memory":
		if h.recent != nil {
			recs = h.recent.RecentTrades(opts.Limit)
		}
	default:
		writeError(w, http.StatusBadRequest, "source must be memory or db")
		return
	}

	out := make([]service.TradeJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, service.TradeToJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"count":  len(out),
	})
}
