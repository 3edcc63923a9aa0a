package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"yieldprotocol/indexer"
)

func (s *server) mountEvents(r chi.Router) {
	r.Get("/", s.events)
	r.Get("/tx/{txID}", s.receipt)
}

func (s *server) events(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "IndexerDisabled", Message: "event indexer not configured"})
		return
	}
	query := indexer.Query{
		Type: r.URL.Query().Get("type"),
		TxID: r.URL.Query().Get("tx"),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		query.FromHeight = from
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		query.Limit = limit
	}
	events, err := s.indexer.Events(r.Context(), query)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) receipt(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "IndexerDisabled", Message: "event indexer not configured"})
		return
	}
	txID := chi.URLParam(r, "txID")
	row, err := s.indexer.Receipt(r.Context(), txID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	events, err := s.indexer.Events(r.Context(), indexer.Query{TxID: txID, Limit: row.EventCount + 1})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txId":      row.TxID,
		"op":        row.Op,
		"height":    row.Height,
		"timestamp": row.Timestamp.Unix(),
		"events":    events,
	})
}
