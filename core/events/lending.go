package events

import (
	"math/big"

	"yieldprotocol/core/types"
)

const (
	TypeLoanProposed   = "loan.proposed"
	TypeLoanStatus     = "loan.status"
	TypeLoanRepayment  = "loan.repayment"
	TypeLoanLiquidated = "loan.liquidated"
)

type LoanProposed struct {
	LoanID       uint64
	ProposalID   uint64
	Borrower     [20]byte
	Amount       *big.Int
	CollateralID uint64
	InterestBps  uint64
	DurationSecs uint64
}

func (LoanProposed) EventType() string { return TypeLoanProposed }

func (e LoanProposed) Event() *types.Event {
	return &types.Event{Type: TypeLoanProposed, Attributes: map[string]string{
		"loanId":       formatUint(e.LoanID),
		"proposalId":   formatUint(e.ProposalID),
		"borrower":     formatAddress(e.Borrower),
		"amount":       formatAmount(e.Amount),
		"collateralId": formatUint(e.CollateralID),
		"interestBps":  formatUint(e.InterestBps),
		"durationSecs": formatUint(e.DurationSecs),
	}}
}

// LoanStatus is emitted whenever a loan changes lifecycle state.
type LoanStatus struct {
	LoanID uint64
	Status string
}

func (LoanStatus) EventType() string { return TypeLoanStatus }

func (e LoanStatus) Event() *types.Event {
	return &types.Event{Type: TypeLoanStatus, Attributes: map[string]string{
		"loanId": formatUint(e.LoanID),
		"status": e.Status,
	}}
}

type LoanRepayment struct {
	LoanID      uint64
	Payer       [20]byte
	Principal   *big.Int
	Interest    *big.Int
	Outstanding *big.Int
}

func (LoanRepayment) EventType() string { return TypeLoanRepayment }

func (e LoanRepayment) Event() *types.Event {
	return &types.Event{Type: TypeLoanRepayment, Attributes: map[string]string{
		"loanId":      formatUint(e.LoanID),
		"payer":       formatAddress(e.Payer),
		"principal":   formatAmount(e.Principal),
		"interest":    formatAmount(e.Interest),
		"outstanding": formatAmount(e.Outstanding),
	}}
}

type LoanLiquidated struct {
	LoanID    uint64
	Recovered *big.Int
	Loss      *big.Int
	Surplus   *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{Type: TypeLoanLiquidated, Attributes: map[string]string{
		"loanId":    formatUint(e.LoanID),
		"recovered": formatAmount(e.Recovered),
		"loss":      formatAmount(e.Loss),
		"surplus":   formatAmount(e.Surplus),
	}}
}
