package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"yieldprotocol/core/types"
	"yieldprotocol/crypto"
)

type accountResponse struct {
	Address    string `json:"address"`
	BalanceUSD string `json:"balanceUsd"`
	Shares     string `json:"shares"`
}

type assetBalanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *server) mountAccounts(r chi.Router) {
	r.Get("/{address}", s.account)
	r.Get("/{address}/assets/{asset}", s.assetBalance)
	r.Get("/{address}/positions", s.accountPositions)
	r.Get("/{address}/loans", s.accountLoans)
	r.Get("/{address}/collateral", s.accountCollateral)
}

func (s *server) account(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.ledger.BalanceOfUSD(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	holding, err := s.ledger.Holding(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:    addressString(addr),
		BalanceUSD: amountString(balance),
		Shares:     amountString(holding.Shares),
	})
}

func (s *server) assetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
	balance, err := s.ledger.AssetBalance(addr, asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assetBalanceResponse{Address: addressString(addr), Asset: asset, Balance: amountString(balance)})
}

func (s *server) accountPositions(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	positions, err := s.ledger.Positions(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, newPositionView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Lock   string `json:"lock"`
}

type withdrawRequest struct {
	Emergency bool `json:"emergency"`
}

type transferRequest struct {
	To string `json:"to"`
}

func (s *server) mountVault(public, authed chi.Router) {
	public.Get("/books", s.books)
	public.Get("/positions/{id}", s.position)
	authed.Post("/deposit", s.deposit)
	authed.Post("/positions/{id}/withdraw", s.withdraw)
	authed.Post("/positions/{id}/transfer", s.transfer)
}

func (s *server) books(w http.ResponseWriter, r *http.Request) {
	books, err := s.ledger.Books()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]bookView, 0, len(books))
	for _, b := range books {
		out = append(out, newBookView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) position(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	p, err := s.ledger.Position(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	view := newPositionView(p)
	if value, err := s.ledger.PositionValue(id); err == nil {
		view.Value = amountString(value)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	lock, err := types.ParseLockPeriod(req.Lock)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	id, err := s.ledger.Deposit(ctx, owner, req.Asset, amount, lock)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Position(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionView(p))
}

func (s *server) withdraw(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req withdrawRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	withdraw := s.ledger.Withdraw
	if req.Emergency {
		withdraw = s.ledger.EmergencyWithdraw
	}
	paid, err := withdraw(ctx, owner, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": amountString(paid)})
}

func (s *server) transfer(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req transferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.TransferPosition(ctx, owner, id, to); err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Position(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(p))
}
