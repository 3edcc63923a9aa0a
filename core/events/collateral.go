package events

import (
	"math/big"

	"yieldprotocol/core/types"
)

const (
	TypeCollateralRegistered = "collateral.registered"
	TypeCollateralStatus     = "collateral.status"
	TypeCollateralRevalued   = "collateral.revalued"
)

type CollateralRegistered struct {
	ID    uint64
	Owner [20]byte
	Value *big.Int
	Grade uint64
	Batch string
}

func (CollateralRegistered) EventType() string { return TypeCollateralRegistered }

func (e CollateralRegistered) Event() *types.Event {
	attrs := map[string]string{
		"id":    formatUint(e.ID),
		"owner": formatAddress(e.Owner),
		"value": formatAmount(e.Value),
		"grade": formatUint(e.Grade),
	}
	if e.Batch != "" {
		attrs["batch"] = e.Batch
	}
	return &types.Event{Type: TypeCollateralRegistered, Attributes: attrs}
}

// CollateralStatus is emitted on every lifecycle transition.
type CollateralStatus struct {
	ID        uint64
	Status    string
	LoanID    uint64
	Recovered *big.Int
}

func (CollateralStatus) EventType() string { return TypeCollateralStatus }

func (e CollateralStatus) Event() *types.Event {
	attrs := map[string]string{
		"id":     formatUint(e.ID),
		"status": e.Status,
	}
	if e.LoanID != 0 {
		attrs["loanId"] = formatUint(e.LoanID)
	}
	if e.Recovered != nil {
		attrs["recovered"] = e.Recovered.String()
	}
	return &types.Event{Type: TypeCollateralStatus, Attributes: attrs}
}

type CollateralRevalued struct {
	ID       uint64
	Previous *big.Int
	Current  *big.Int
}

func (CollateralRevalued) EventType() string { return TypeCollateralRevalued }

func (e CollateralRevalued) Event() *types.Event {
	return &types.Event{Type: TypeCollateralRevalued, Attributes: map[string]string{
		"id":       formatUint(e.ID),
		"previous": formatAmount(e.Previous),
		"current":  formatAmount(e.Current),
	}}
}
