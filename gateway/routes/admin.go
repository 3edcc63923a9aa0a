package routes

import (
	"log/slog"
	"net/http"

	"yieldprotocol/crypto"
)

type priceRequest struct {
	Asset string `json:"asset"`
	Rate  string `json:"rate"`
}

type issueRequest struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.ledger.SetPrice(req.Asset, req.Rate); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *server) issueAsset(w http.ResponseWriter, r *http.Request) {
	treasury, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req issueRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.IssueAsset(ctx, treasury, to, req.Asset, amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.logger.Info("asset bridged", slog.String("asset", req.Asset), slog.String("amount", amount.String()))
	writeJSON(w, http.StatusCreated, req)
}
