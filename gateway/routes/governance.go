package routes

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"yieldprotocol/native/governance"
)

type paramProposalRequest struct {
	Delta json.RawMessage `json:"delta"`
}

type tradeProposalRequest struct {
	AssetIn      string `json:"assetIn"`
	AssetOut     string `json:"assetOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	Deadline     uint64 `json:"deadline"`
}

type committeeVoteRequest struct {
	Approve bool `json:"approve"`
}

type voteRequest struct {
	Choice string `json:"choice"`
}

type proposalStatusResponse struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

func (s *server) mountProposals(public, authed chi.Router) {
	public.Get("/", s.listProposals)
	public.Get("/{id}", s.proposal)
	authed.Post("/params", s.proposeParams)
	authed.Post("/trades", s.proposeTrade)
	authed.Post("/{id}/committee-vote", s.committeeVote)
	authed.Post("/{id}/vote", s.vote)
	authed.Post("/{id}/expire", s.expireProposal)
	authed.Post("/{id}/execute", s.executeProposal)
}

func (s *server) listProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.ledger.Proposals()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, newProposalView(p, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) proposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	p, err := s.ledger.Proposal(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	tally, err := s.ledger.Tally(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(p, tally))
}

func (s *server) proposeParams(w http.ResponseWriter, r *http.Request) {
	proposer, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req paramProposalRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.Delta) == 0 {
		writeBadRequest(w, fmt.Errorf("delta required"))
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	id, err := s.ledger.ProposeParamChange(ctx, proposer, req.Delta)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Proposal(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProposalView(p, nil))
}

func (s *server) proposeTrade(w http.ResponseWriter, r *http.Request) {
	proposer, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req tradeProposalRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amountIn, err := parseAmount("amountIn", req.AmountIn)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	minOut, err := parseAmount("minAmountOut", req.MinAmountOut)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order := governance.TradeOrder{
		AssetIn:      req.AssetIn,
		AssetOut:     req.AssetOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Deadline:     req.Deadline,
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	id, err := s.ledger.ProposeTrade(ctx, proposer, order)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Proposal(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProposalView(p, nil))
}

func (s *server) committeeVote(w http.ResponseWriter, r *http.Request) {
	member, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req committeeVoteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	status, err := s.ledger.CommitteeVote(ctx, id, member, req.Approve)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalStatusResponse{ID: id, Status: status.String()})
}

func (s *server) vote(w http.ResponseWriter, r *http.Request) {
	voter, err := caller(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req voteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	status, err := s.ledger.Vote(ctx, id, voter, req.Choice)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalStatusResponse{ID: id, Status: status.String()})
}

func (s *server) expireProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	status, err := s.ledger.ExpireProposal(ctx, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalStatusResponse{ID: id, Status: status.String()})
}

func (s *server) executeProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.ExecuteProposal(ctx, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Proposal(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalStatusResponse{ID: id, Status: p.Status.String()})
}
