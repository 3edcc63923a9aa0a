package governance

import (
	"math/big"

	nativecommon "yieldprotocol/native/common"
)

// ProposalKind selects the voting tier and the execution side effect.
type ProposalKind uint8

const (
	// ProposalKindLoanApproval is decided by the credit committee and disburses
	// a loan when executed.
	ProposalKindLoanApproval ProposalKind = iota + 1
	// ProposalKindParameterChange is decided by token-weighted vote and writes
	// a new parameter version when executed.
	ProposalKindParameterChange
	// ProposalKindTradeApproval is decided by the credit committee and issues
	// a trade instruction to the treasury operator when executed.
	ProposalKindTradeApproval
)

func (k ProposalKind) String() string {
	switch k {
	case ProposalKindLoanApproval:
		return "loan.approval"
	case ProposalKindParameterChange:
		return "param.change"
	case ProposalKindTradeApproval:
		return "trade.approval"
	default:
		return "unknown"
	}
}

// Committee reports whether the credit committee decides the kind.
func (k ProposalKind) Committee() bool {
	return k == ProposalKindLoanApproval || k == ProposalKindTradeApproval
}

// TradeOrder asks the treasury operator to sell AmountIn of AssetIn for at
// least MinAmountOut of AssetOut before Deadline. Amounts are asset base
// units.
type TradeOrder struct {
	AssetIn      string
	AssetOut     string
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     uint64
}

// ProposalStatus enumerates the lifecycle phases a proposal transitions
// through. Rejected, Expired and Executed are terminal.
type ProposalStatus uint8

const (
	// ProposalStatusOpen accepts ballots until VotingEnd.
	ProposalStatusOpen ProposalStatus = iota + 1
	// ProposalStatusPassed met its quorum and awaits execution.
	ProposalStatusPassed
	// ProposalStatusRejected can no longer reach quorum.
	ProposalStatusRejected
	// ProposalStatusExecuted had its side effect applied.
	ProposalStatusExecuted
	// ProposalStatusExpired stayed open past its voting window.
	ProposalStatusExpired
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusOpen:
		return "open"
	case ProposalStatusPassed:
		return "passed"
	case ProposalStatusRejected:
		return "rejected"
	case ProposalStatusExecuted:
		return "executed"
	case ProposalStatusExpired:
		return "expired"
	default:
		return "unspecified"
	}
}

// Terminal reports whether the proposal can change again.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalStatusRejected || s == ProposalStatusExecuted || s == ProposalStatusExpired
}

// VoteChoice enumerates the supported ballot selections.
type VoteChoice string

const (
	VoteChoiceUnspecified VoteChoice = ""
	VoteChoiceYes         VoteChoice = "yes"
	VoteChoiceNo          VoteChoice = "no"
	// VoteChoiceAbstain records participation without support or opposition.
	VoteChoiceAbstain VoteChoice = "abstain"
)

// Valid reports whether the vote choice represents a supported selection.
func (c VoteChoice) Valid() bool {
	switch c {
	case VoteChoiceYes, VoteChoiceNo, VoteChoiceAbstain:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for logging and event emission.
func (c VoteChoice) String() string { return string(c) }

// Proposal captures the immutable metadata, the frozen electorate and the
// running tallies of a governance proposal.
type Proposal struct {
	ID       uint64
	Kind     ProposalKind
	Proposer [20]byte
	// LoanID is set for loan approvals.
	LoanID uint64
	// Payload is the JSON parameter delta for parameter changes.
	Payload []byte
	// Trade is set for trade approvals.
	Trade TradeOrder
	// Electorate is the committee as it stood when the proposal opened.
	Electorate [][20]byte
	// Quorum is an approval count for committee proposals and a basis point
	// fraction of SnapshotTotal for token-weighted proposals.
	Quorum uint64
	// SnapshotHeight and SnapshotTotal freeze token-weighted voting power at
	// the ledger height the proposal opened.
	SnapshotHeight uint64
	SnapshotTotal  *big.Int
	Yes            *big.Int
	No             *big.Int
	Abstain        *big.Int
	Status         ProposalStatus
	CreatedAt      uint64
	VotingEnd      uint64
	ClosedAt       uint64
}

func (p *Proposal) ensureDefaults() {
	p.SnapshotTotal = nativecommon.Copy(p.SnapshotTotal)
	p.Yes = nativecommon.Copy(p.Yes)
	p.No = nativecommon.Copy(p.No)
	p.Abstain = nativecommon.Copy(p.Abstain)
	p.Trade.AmountIn = nativecommon.Copy(p.Trade.AmountIn)
	p.Trade.MinAmountOut = nativecommon.Copy(p.Trade.MinAmountOut)
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	out := *p
	out.Payload = append([]byte(nil), p.Payload...)
	out.Electorate = append([][20]byte(nil), p.Electorate...)
	out.ensureDefaults()
	return &out
}

// totalWeight is the largest weight the electorate can cast.
func (p *Proposal) totalWeight() *big.Int {
	if p.Kind.Committee() {
		return new(big.Int).SetUint64(uint64(len(p.Electorate)))
	}
	return nativecommon.Copy(p.SnapshotTotal)
}

// hasElector reports whether addr belongs to the frozen committee.
func (p *Proposal) hasElector(addr [20]byte) bool {
	for _, member := range p.Electorate {
		if member == addr {
			return true
		}
	}
	return false
}

// Vote describes a single participant's ballot. Committee ballots carry
// weight one.
type Vote struct {
	ProposalID uint64
	Voter      [20]byte
	Choice     VoteChoice
	Weight     *big.Int
	CastAt     uint64
}

// Tally summarises the ballots recorded for a proposal.
type Tally struct {
	Yes     *big.Int
	No      *big.Int
	Abstain *big.Int
	Total   *big.Int
	Quorum  uint64
	Ballots uint64
}
