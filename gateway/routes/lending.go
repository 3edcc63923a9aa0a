package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"yieldprotocol/native/collateral"
	"yieldprotocol/native/lending"
)

type registerCollateralRequest struct {
	DeclaredValue string `json:"declaredValue"`
	Grade         uint64 `json:"grade"`
	Batch         string `json:"batch"`
	QuantityKg    uint64 `json:"quantityKg"`
	Origin        string `json:"origin"`
	HarvestDate   uint64 `json:"harvestDate"`
}

type revalueRequest struct {
	Value string `json:"value"`
}

type proposeLoanRequest struct {
	Amount       string `json:"amount"`
	CollateralID uint64 `json:"collateralId"`
	InterestBps  uint64 `json:"interestBps"`
	DurationSecs uint64 `json:"durationSecs"`
}

type proposeLoanResponse struct {
	LoanID     uint64 `json:"loanId"`
	ProposalID uint64 `json:"proposalId"`
}

type repayRequest struct {
	Amount string `json:"amount"`
}

type repayResponse struct {
	Principal   string `json:"principal"`
	Interest    string `json:"interest"`
	Outstanding string `json:"outstanding"`
	Closed      bool   `json:"closed"`
}

type liquidationRequest struct {
	Recovered string `json:"recovered"`
}

type liquidationResponse struct {
	Recovered string `json:"recovered"`
	Loss      string `json:"loss"`
	Yield     string `json:"yield"`
	Surplus   string `json:"surplus"`
}

func (s *server) mountCollateral(public, authed chi.Router) {
	public.Get("/{id}", s.collateralRecord)
	authed.Post("/", s.registerCollateral)
	authed.Post("/{id}/revalue", s.revalueCollateral)
	authed.Post("/{id}/expire", s.expireCollateral)
}

func (s *server) mountLoans(public, authed chi.Router) {
	public.Get("/{id}", s.loan)
	public.Get("/{id}/collateral", s.loanCollateral)
	authed.Post("/", s.proposeLoan)
	authed.Post("/{id}/repay", s.repay)
	authed.Post("/{id}/check-default", s.checkDefault)
	authed.Post("/{id}/liquidation", s.settleLiquidation)
}

func (s *server) collateralRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, err := s.ledger.Collateral(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollateralView(rec))
}

func (s *server) registerCollateral(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req registerCollateralRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseAmount("declaredValue", req.DeclaredValue)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	meta := collateral.Metadata{
		Batch:       req.Batch,
		QuantityKg:  req.QuantityKg,
		Origin:      req.Origin,
		HarvestDate: req.HarvestDate,
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	id, err := s.ledger.RegisterCollateral(ctx, owner, value, req.Grade, meta)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	rec, err := s.ledger.Collateral(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCollateralView(rec))
}

func (s *server) revalueCollateral(w http.ResponseWriter, r *http.Request) {
	valuer, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req revalueRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.RevalueCollateral(ctx, valuer, id, value); err != nil {
		writeLedgerError(w, err)
		return
	}
	rec, err := s.ledger.Collateral(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollateralView(rec))
}

func (s *server) expireCollateral(w http.ResponseWriter, r *http.Request) {
	valuer, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.ExpireCollateral(ctx, valuer, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	rec, err := s.ledger.Collateral(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollateralView(rec))
}

func (s *server) accountCollateral(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	records, err := s.ledger.CollateralOf(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]collateralView, 0, len(records))
	for _, rec := range records {
		out = append(out, newCollateralView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) loanCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, err := s.ledger.LoanCollateral(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollateralView(rec))
}

func (s *server) loan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	loan, err := s.ledger.Loan(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (s *server) accountLoans(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	loans, err := s.ledger.LoansOf(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]loanView, 0, len(loans))
	for _, loan := range loans {
		out = append(out, newLoanView(loan))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) proposeLoan(w http.ResponseWriter, r *http.Request) {
	borrower, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req proposeLoanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	terms := lending.Terms{InterestBps: req.InterestBps, DurationSecs: req.DurationSecs}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	loanID, proposalID, err := s.ledger.ProposeLoan(ctx, borrower, amount, req.CollateralID, terms)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposeLoanResponse{LoanID: loanID, ProposalID: proposalID})
}

func (s *server) repay(w http.ResponseWriter, r *http.Request) {
	payer, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req repayRequest
	if err := decodeRequest(r, &req); err != nil {
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
	result, err := s.ledger.Repay(ctx, payer, id, amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{
		Principal:   amountString(result.Principal),
		Interest:    amountString(result.Interest),
		Outstanding: amountString(result.Outstanding),
		Closed:      result.Closed,
	})
}

func (s *server) checkDefault(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	defaulted, err := s.ledger.CheckDefault(ctx, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"defaulted": defaulted})
}

func (s *server) settleLiquidation(w http.ResponseWriter, r *http.Request) {
	liquidator, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req liquidationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	recovered, err := parseAmount("recovered", req.Recovered)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.ledger.SettleLiquidation(ctx, liquidator, id, recovered)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{
		Recovered: amountString(result.Recovered),
		Loss:      amountString(result.Loss),
		Yield:     amountString(result.Yield),
		Surplus:   amountString(result.Surplus),
	})
}
