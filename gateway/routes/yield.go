package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type yieldDepositRequest struct {
	Amount string `json:"amount"`
}

type settleRequest struct {
	ReleaseAsset string `json:"releaseAsset"`
	DeliverAsset string `json:"deliverAsset"`
}

type reportsResponse struct {
	Total   uint64       `json:"total"`
	Reports []reportView `json:"reports"`
}

type totalsResponse struct {
	Gross  string `json:"gross"`
	Fees   string `json:"fees"`
	Net    string `json:"net"`
	Losses string `json:"losses"`
}

func (s *server) mountYield(public, authed chi.Router) {
	public.Get("/totals", s.yieldTotals)
	public.Get("/orders", s.openOrders)
	public.Get("/orders/{id}", s.rebalanceOrder)
	public.Get("/reports", s.yieldReports)
	public.Get("/reports/{id}", s.yieldReport)
	authed.Post("/deposit", s.depositYield)
	authed.Post("/orders/{id}/settle", s.settleRebalance)
}

func (s *server) yieldTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.ledger.YieldTotals()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsResponse{
		Gross:  amountString(totals.Gross),
		Fees:   amountString(totals.Fees),
		Net:    amountString(totals.Net),
		Losses: amountString(totals.Losses),
	})
}

func (s *server) openOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.ledger.OpenOrders()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) rebalanceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := s.ledger.RebalanceOrder(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *server) yieldReports(w http.ResponseWriter, r *http.Request) {
	start, limit, err := pageQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	reports, total, err := s.ledger.YieldReports(start, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := reportsResponse{Total: total, Reports: make([]reportView, 0, len(reports))}
	for _, report := range reports {
		out.Reports = append(out.Reports, newReportView(report))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) yieldReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	report, err := s.ledger.YieldReport(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report))
}

func (s *server) depositYield(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req yieldDepositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	gross, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	report, err := s.ledger.DepositYield(ctx, from, gross)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReportView(report))
}

func (s *server) settleRebalance(w http.ResponseWriter, r *http.Request) {
	operator, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req settleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	order, err := s.ledger.SettleRebalance(ctx, operator, id, req.ReleaseAsset, req.DeliverAsset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}
