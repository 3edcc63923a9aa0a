package lending

import (
	"math/big"

	nativecommon "yieldprotocol/native/common"
)

// Status is the loan lifecycle state.
type Status uint8

const (
	StatusProposed Status = iota + 1
	StatusApproved
	StatusActive
	StatusRepaid
	StatusDefaulted
	StatusLiquidated
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusApproved:
		return "approved"
	case StatusActive:
		return "active"
	case StatusRepaid:
		return "repaid"
	case StatusDefaulted:
		return "defaulted"
	case StatusLiquidated:
		return "liquidated"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terms are the borrower-requested loan terms. Zero fields fall back to the
// protocol defaults.
type Terms struct {
	InterestBps  uint64
	DurationSecs uint64
}

// Loan captures a single collateralized loan drawn from the stable vault.
// Amount values are micro-USD.
type Loan struct {
	// ID is the sequential loan identifier.
	ID uint64
	// Borrower receives the disbursement and any liquidation surplus.
	Borrower [20]byte
	// Principal is the amount requested and disbursed.
	Principal *big.Int
	// Outstanding is the principal not yet repaid.
	Outstanding *big.Int
	// InterestBps is the annual simple interest rate.
	InterestBps uint64
	// DurationSecs is the agreed term measured from disbursement.
	DurationSecs uint64
	// InterestDue is fixed at disbursement for the full term.
	InterestDue *big.Int
	// InterestPaid is interest received and escrowed by the pool.
	InterestPaid *big.Int
	// CollateralID references the pledged lot. The registry keeps the
	// reverse index.
	CollateralID uint64
	// ProposalID is the committee proposal gating approval.
	ProposalID uint64
	Status     Status
	CreatedAt  uint64
	// DisbursedAt and Maturity are zero until the loan is active.
	DisbursedAt uint64
	Maturity    uint64
	ClosedAt    uint64
	// Recovered is what liquidation of the collateral returned.
	Recovered *big.Int
}

func (l *Loan) ensureDefaults() {
	l.Principal = nativecommon.Copy(l.Principal)
	l.Outstanding = nativecommon.Copy(l.Outstanding)
	l.InterestDue = nativecommon.Copy(l.InterestDue)
	l.InterestPaid = nativecommon.Copy(l.InterestPaid)
	l.Recovered = nativecommon.Copy(l.Recovered)
}

// Clone returns a deep copy.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	out := *l
	out.ensureDefaults()
	return &out
}

// InterestOwed returns interest due but not yet paid.
func (l *Loan) InterestOwed() *big.Int {
	return nativecommon.SubFloor(l.InterestDue, l.InterestPaid)
}

// Balance returns principal plus unpaid interest.
func (l *Loan) Balance() *big.Int {
	return new(big.Int).Add(nativecommon.Copy(l.Outstanding), l.InterestOwed())
}

// RepaymentResult reports how a repayment was applied.
type RepaymentResult struct {
	Principal   *big.Int
	Interest    *big.Int
	Outstanding *big.Int
	Closed      bool
}

// LiquidationResult reports how liquidation proceeds were applied.
type LiquidationResult struct {
	Recovered *big.Int
	Loss      *big.Int
	Yield     *big.Int
	Surplus   *big.Int
}
