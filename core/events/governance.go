package events

import (
	"math/big"
	"strconv"
	"strings"

	"yieldprotocol/core/types"
)

const (
	TypeProposalCreated  = "gov.proposed"
	TypeVoteCast         = "gov.vote"
	TypeProposalStatus   = "gov.status"
	TypeProposalExecuted = "gov.executed"
	TypeParamsUpdated    = "params.updated"
	TypeTradeApproved    = "gov.trade"
)

type ProposalCreated struct {
	ID             uint64
	Kind           string
	Proposer       [20]byte
	VotingEnd      int64
	SnapshotHeight uint64
	SnapshotTotal  *big.Int
}

func (ProposalCreated) EventType() string { return TypeProposalCreated }

func (e ProposalCreated) Event() *types.Event {
	attrs := map[string]string{
		"id":        formatUint(e.ID),
		"kind":      e.Kind,
		"proposer":  formatAddress(e.Proposer),
		"votingEnd": strconv.FormatInt(e.VotingEnd, 10),
	}
	if e.SnapshotHeight != 0 {
		attrs["snapshotHeight"] = formatUint(e.SnapshotHeight)
	}
	if e.SnapshotTotal != nil {
		attrs["snapshotTotal"] = e.SnapshotTotal.String()
	}
	return &types.Event{Type: TypeProposalCreated, Attributes: attrs}
}

type VoteCast struct {
	ProposalID uint64
	Voter      [20]byte
	Choice     string
	Weight     *big.Int
}

func (VoteCast) EventType() string { return TypeVoteCast }

func (e VoteCast) Event() *types.Event {
	return &types.Event{Type: TypeVoteCast, Attributes: map[string]string{
		"id":     formatUint(e.ProposalID),
		"voter":  formatAddress(e.Voter),
		"choice": e.Choice,
		"weight": formatAmount(e.Weight),
	}}
}

// ProposalStatus is emitted when a proposal leaves the Open state.
type ProposalStatus struct {
	ID     uint64
	Status string
}

func (ProposalStatus) EventType() string { return TypeProposalStatus }

func (e ProposalStatus) Event() *types.Event {
	return &types.Event{Type: TypeProposalStatus, Attributes: map[string]string{
		"id":     formatUint(e.ID),
		"status": e.Status,
	}}
}

type ProposalExecuted struct {
	ID   uint64
	Kind string
}

func (ProposalExecuted) EventType() string { return TypeProposalExecuted }

func (e ProposalExecuted) Event() *types.Event {
	return &types.Event{Type: TypeProposalExecuted, Attributes: map[string]string{
		"id":   formatUint(e.ID),
		"kind": e.Kind,
	}}
}

// ParamsUpdated is emitted when a new parameter version is written.
type ParamsUpdated struct {
	Version uint64
	Keys    []string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{Type: TypeParamsUpdated, Attributes: map[string]string{
		"version": formatUint(e.Version),
		"keys":    strings.Join(e.Keys, ","),
	}}
}

// TradeApproved carries the committee's instruction to the treasury operator.
type TradeApproved struct {
	ProposalID   uint64
	AssetIn      string
	AssetOut     string
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     uint64
}

func (TradeApproved) EventType() string { return TypeTradeApproved }

func (e TradeApproved) Event() *types.Event {
	return &types.Event{Type: TypeTradeApproved, Attributes: map[string]string{
		"id":           formatUint(e.ProposalID),
		"assetIn":      e.AssetIn,
		"assetOut":     e.AssetOut,
		"amountIn":     formatAmount(e.AmountIn),
		"minAmountOut": formatAmount(e.MinAmountOut),
		"deadline":     formatUint(e.Deadline),
	}}
}
