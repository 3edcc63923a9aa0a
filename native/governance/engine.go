package governance

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/crypto"
	nativecommon "yieldprotocol/native/common"
	"yieldprotocol/native/params"
)

var (
	errStateNotConfigured = errors.New("governance: state not configured")
	errLoansNotConfigured = errors.New("governance: lending not configured")
)

// storage captures the subset of state manager capabilities required by the
// governance engine.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	NextSequence(key []byte) (uint64, error)
	Height() (uint64, error)
}

type paramStore interface {
	Params() (params.ProtocolParams, error)
	Apply(delta []byte) (params.ProtocolParams, error)
}

type tokenView interface {
	BalanceOfUSD(addr [20]byte) (*big.Int, error)
	BalanceOfUSDAt(addr [20]byte, height uint64) (*big.Int, error)
	TotalBackingAt(height uint64) (*big.Int, error)
}

// LoanExecutor is the lending surface a loan approval drives.
type LoanExecutor interface {
	ApproveLoan(caller [20]byte, loanID uint64) error
	RejectLoan(caller [20]byte, loanID uint64) error
	Disburse(caller [20]byte, loanID uint64) error
}

var (
	proposalSeqKey   = []byte("gov/proposal/seq")
	proposalIndexKey = []byte("gov/proposals")
)

func proposalKey(id uint64) []byte {
	return []byte(fmt.Sprintf("gov/proposal/%d", id))
}

func voteKey(id uint64, voter [20]byte) []byte {
	return []byte(fmt.Sprintf("gov/vote/%d/%x", id, voter))
}

func voterIndexKey(id uint64) []byte {
	return []byte(fmt.Sprintf("gov/voters/%d", id))
}

// Address is the module identity governance uses when it calls lending.
func Address() [20]byte { return crypto.ModuleAddress(params.ModuleGovernance) }

// Engine runs the two governance tiers: the credit committee approving loans
// and the token-weighted DAO changing parameters. Every proposal is an explicit
// state machine advanced by discrete calls.
type Engine struct {
	state   storage
	params  paramStore
	tokens  tokenView
	loans   LoanExecutor
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine constructs a governance engine. The lending executor is wired
// separately with SetLoans because lending also points back at governance.
func NewEngine(state storage, p paramStore, tokens tokenView) *Engine {
	return &Engine{
		state:   state,
		params:  p,
		tokens:  tokens,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetLoans wires the lending pool executed by loan approvals.
func (e *Engine) SetLoans(loans LoanExecutor) { e.loans = loans }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to stamp proposals. Nil restores the
// default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn().Unix())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.params == nil || e.tokens == nil {
		return errStateNotConfigured
	}
	return nil
}

func (e *Engine) load(id uint64) (*Proposal, error) {
	var proposal Proposal
	ok, err := e.state.KVGet(proposalKey(id), &proposal)
	if err != nil {
		return nil, fmt.Errorf("governance: load proposal %d: %w", id, err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrProposalNotFound, "%d", id)
	}
	proposal.ensureDefaults()
	return &proposal, nil
}

func (e *Engine) put(p *Proposal) error {
	if err := e.state.KVPut(proposalKey(p.ID), p); err != nil {
		return fmt.Errorf("governance: persist proposal %d: %w", p.ID, err)
	}
	return nil
}

func (e *Engine) open(p *Proposal, periodSecs uint64) (uint64, error) {
	id, err := e.state.NextSequence(proposalSeqKey)
	if err != nil {
		return 0, err
	}
	now := e.now()
	p.ID = id
	p.Status = ProposalStatusOpen
	p.CreatedAt = now
	p.VotingEnd = now + periodSecs
	p.ensureDefaults()
	if err := e.put(p); err != nil {
		return 0, err
	}
	if _, err := e.state.ListAppend(proposalIndexKey, id); err != nil {
		return 0, err
	}
	evt := events.ProposalCreated{
		ID:        id,
		Kind:      p.Kind.String(),
		Proposer:  p.Proposer,
		VotingEnd: int64(p.VotingEnd),
	}
	if p.Kind == ProposalKindParameterChange {
		evt.SnapshotHeight = p.SnapshotHeight
		evt.SnapshotTotal = new(big.Int).Set(p.SnapshotTotal)
	}
	e.emitter.Emit(evt)
	return id, nil
}

// SubmitLoanProposal opens a committee vote on a proposed loan. The committee
// and its quorum are frozen from the current parameter set.
func (e *Engine) SubmitLoanProposal(proposer [20]byte, loanID uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if loanID == 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "loan id required")
	}
	p, err := e.params.Params()
	if err != nil {
		return 0, err
	}
	members, err := p.CommitteeMembers()
	if err != nil {
		return 0, err
	}
	return e.open(&Proposal{
		Kind:       ProposalKindLoanApproval,
		Proposer:   proposer,
		LoanID:     loanID,
		Electorate: members,
		Quorum:     p.CommitteeQuorum,
	}, p.CommitteeVotingPeriodSecs)
}

// SubmitTradeProposal opens a committee vote on a treasury trade. Only
// current committee members may propose, and the deadline must lie ahead.
func (e *Engine) SubmitTradeProposal(proposer [20]byte, order TradeOrder) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	p, err := e.params.Params()
	if err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(p, params.ModuleGovernance); err != nil {
		return 0, err
	}
	members, err := p.CommitteeMembers()
	if err != nil {
		return 0, err
	}
	committee := &Proposal{Electorate: members}
	if !committee.hasElector(proposer) {
		return 0, coreerrors.Wrap(coreerrors.ErrUnauthorized, "%x is not on the committee", proposer)
	}
	order.AssetIn = strings.ToUpper(strings.TrimSpace(order.AssetIn))
	order.AssetOut = strings.ToUpper(strings.TrimSpace(order.AssetOut))
	switch {
	case order.AssetIn == "" || order.AssetOut == "":
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "trade assets required")
	case order.AssetIn == order.AssetOut:
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "trade sells and buys %s", order.AssetIn)
	case !nativecommon.Positive(order.AmountIn):
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidAmount, "trade amount must be positive")
	case order.MinAmountOut != nil && order.MinAmountOut.Sign() < 0:
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidAmount, "minimum output must not be negative")
	case order.Deadline <= e.now():
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "deadline %d already passed", order.Deadline)
	}
	order.AmountIn = new(big.Int).Set(order.AmountIn)
	order.MinAmountOut = nativecommon.Copy(order.MinAmountOut)
	return e.open(&Proposal{
		Kind:       ProposalKindTradeApproval,
		Proposer:   proposer,
		Trade:      order,
		Electorate: members,
		Quorum:     p.CommitteeQuorum,
	}, p.CommitteeVotingPeriodSecs)
}

// ProposeParamChange opens a token-weighted vote on a JSON parameter delta.
// The delta must touch only allow-listed keys and produce a valid parameter
// set against the current one. The proposer must hold at least MinProposalUSD
// of token value. Voting power is frozen at the current ledger height.
func (e *Engine) ProposeParamChange(proposer [20]byte, payload []byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	cur, err := e.params.Params()
	if err != nil {
		return 0, err
	}
	if _, err := params.Preflight(cur, payload); err != nil {
		return 0, err
	}
	stake, err := e.tokens.BalanceOfUSD(proposer)
	if err != nil {
		return 0, err
	}
	if required := nativecommon.Copy(cur.MinProposalUSD); stake.Cmp(required) < 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInsufficientStake, "holds %s, need %s", stake, required)
	}
	height, err := e.state.Height()
	if err != nil {
		return 0, err
	}
	total, err := e.tokens.TotalBackingAt(height)
	if err != nil {
		return 0, err
	}
	if total.Sign() == 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "no voting supply at height %d", height)
	}
	return e.open(&Proposal{
		Kind:           ProposalKindParameterChange,
		Proposer:       proposer,
		Payload:        append([]byte(nil), payload...),
		Quorum:         cur.DAOQuorumBps,
		SnapshotHeight: height,
		SnapshotTotal:  total,
	}, cur.DAOVotingPeriodSecs)
}

// openForVoting loads a proposal of the given tier that must still be
// accepting ballots.
func (e *Engine) openForVoting(id uint64, committee bool) (*Proposal, error) {
	proposal, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if proposal.Kind.Committee() != committee {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "proposal %d is %s", id, proposal.Kind)
	}
	if proposal.Status != ProposalStatusOpen {
		if proposal.Status == ProposalStatusExpired {
			return nil, coreerrors.Wrap(coreerrors.ErrProposalExpired, "proposal %d", id)
		}
		return nil, coreerrors.Wrap(coreerrors.ErrProposalNotOpen, "proposal %d is %s", id, proposal.Status)
	}
	if e.touch(proposal) {
		return nil, coreerrors.Wrap(coreerrors.ErrProposalExpired, "proposal %d closed at %d", id, proposal.ClosedAt)
	}
	return proposal, nil
}

// CastCommitteeVote records a committee member's approval or rejection of a
// loan or trade proposal. Each member of the frozen electorate votes once.
func (e *Engine) CastCommitteeVote(id uint64, member [20]byte, approve bool) (ProposalStatus, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	proposal, err := e.openForVoting(id, true)
	if err != nil {
		return 0, err
	}
	if !proposal.hasElector(member) {
		return 0, coreerrors.Wrap(coreerrors.ErrUnauthorized, "%x is not on the committee for proposal %d", member, id)
	}
	choice := VoteChoiceNo
	if approve {
		choice = VoteChoiceYes
	}
	return e.record(proposal, member, choice, big.NewInt(1))
}

// CastVote records a token-weighted ballot on a parameter change. Weight is the
// voter's token value at the proposal's snapshot height, so value gained after
// the proposal opened does not count.
func (e *Engine) CastVote(id uint64, voter [20]byte, choice string) (ProposalStatus, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	voteChoice := VoteChoice(strings.ToLower(strings.TrimSpace(choice)))
	if !voteChoice.Valid() {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "invalid vote choice %q", choice)
	}
	proposal, err := e.openForVoting(id, false)
	if err != nil {
		return 0, err
	}
	weight, err := e.tokens.BalanceOfUSDAt(voter, proposal.SnapshotHeight)
	if err != nil {
		return 0, err
	}
	if weight.Sign() == 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInsufficientStake, "no voting power at height %d", proposal.SnapshotHeight)
	}
	return e.record(proposal, voter, voteChoice, weight)
}

func (e *Engine) record(proposal *Proposal, voter [20]byte, choice VoteChoice, weight *big.Int) (ProposalStatus, error) {
	var existing Vote
	found, err := e.state.KVGet(voteKey(proposal.ID, voter), &existing)
	if err != nil {
		return 0, err
	}
	if found {
		return 0, coreerrors.Wrap(coreerrors.ErrAlreadyVoted, "%x on proposal %d", voter, proposal.ID)
	}
	vote := &Vote{ProposalID: proposal.ID, Voter: voter, Choice: choice, Weight: new(big.Int).Set(weight), CastAt: e.now()}
	if err := e.state.KVPut(voteKey(proposal.ID, voter), vote); err != nil {
		return 0, err
	}
	if _, err := e.state.ListAppend(voterIndexKey(proposal.ID), voter); err != nil {
		return 0, err
	}
	switch choice {
	case VoteChoiceYes:
		proposal.Yes.Add(proposal.Yes, weight)
	case VoteChoiceNo:
		proposal.No.Add(proposal.No, weight)
	default:
		proposal.Abstain.Add(proposal.Abstain, weight)
	}
	e.emitter.Emit(events.VoteCast{ProposalID: proposal.ID, Voter: voter, Choice: choice.String(), Weight: new(big.Int).Set(weight)})

	switch {
	case proposal.passed():
		proposal.Status = ProposalStatusPassed
	case proposal.unreachable():
		proposal.Status = ProposalStatusRejected
		proposal.ClosedAt = e.now()
		if proposal.Kind == ProposalKindLoanApproval {
			if err := e.rejectLoan(proposal.LoanID); err != nil {
				return 0, err
			}
		}
	}
	if err := e.put(proposal); err != nil {
		return 0, err
	}
	if proposal.Status != ProposalStatusOpen {
		e.emitter.Emit(events.ProposalStatus{ID: proposal.ID, Status: proposal.Status.String()})
	}
	return proposal.Status, nil
}

func (e *Engine) rejectLoan(loanID uint64) error {
	if e.loans == nil {
		return errLoansNotConfigured
	}
	return e.loans.RejectLoan(Address(), loanID)
}

// passed reports whether the yes tally meets the quorum. Committee proposals
// need Quorum approvals; token-weighted proposals need yes strictly above
// Quorum basis points of the snapshot total.
func (p *Proposal) passed() bool {
	if p.Kind.Committee() {
		return p.Yes.Cmp(new(big.Int).SetUint64(p.Quorum)) >= 0
	}
	lhs := new(big.Int).Mul(p.Yes, nativecommon.BasisPoints)
	rhs := new(big.Int).Mul(p.SnapshotTotal, new(big.Int).SetUint64(p.Quorum))
	return lhs.Cmp(rhs) > 0
}

// unreachable reports whether the outstanding ballots can no longer carry the
// proposal.
func (p *Proposal) unreachable() bool {
	best := &Proposal{
		Kind:          p.Kind,
		Quorum:        p.Quorum,
		SnapshotTotal: p.SnapshotTotal,
		Yes:           nativecommon.SubFloor(nativecommon.SubFloor(p.totalWeight(), p.No), p.Abstain),
	}
	return !best.passed()
}

// touch applies lazy expiry: an open proposal past its voting window, or an
// unexecuted trade past its deadline, is reported as expired.
func (e *Engine) touch(p *Proposal) bool {
	now := e.now()
	expired := p.Status == ProposalStatusOpen && now > p.VotingEnd
	if p.Kind == ProposalKindTradeApproval && (p.Status == ProposalStatusOpen || p.Status == ProposalStatusPassed) && now > p.Trade.Deadline {
		expired = true
	}
	if expired {
		p.Status = ProposalStatusExpired
		p.ClosedAt = now
	}
	return expired
}

// Expire closes an open proposal whose voting window has elapsed, or a trade
// whose deadline passed before execution. An expired loan approval rejects its
// loan. It is a no-op for proposals that already closed.
func (e *Engine) Expire(id uint64) (ProposalStatus, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	proposal, err := e.load(id)
	if err != nil {
		return 0, err
	}
	pendingTrade := proposal.Kind == ProposalKindTradeApproval && proposal.Status == ProposalStatusPassed
	if proposal.Status != ProposalStatusOpen && !pendingTrade {
		return proposal.Status, nil
	}
	if !e.touch(proposal) {
		if pendingTrade {
			return 0, coreerrors.Wrap(coreerrors.ErrProposalNotOpen, "trade %d executable until %d", id, proposal.Trade.Deadline)
		}
		return 0, coreerrors.Wrap(coreerrors.ErrProposalNotOpen, "proposal %d votes until %d", id, proposal.VotingEnd)
	}
	if proposal.Kind == ProposalKindLoanApproval {
		if err := e.rejectLoan(proposal.LoanID); err != nil {
			return 0, err
		}
	}
	if err := e.put(proposal); err != nil {
		return 0, err
	}
	e.emitter.Emit(events.ProposalStatus{ID: proposal.ID, Status: proposal.Status.String()})
	return proposal.Status, nil
}

// Execute applies a passed proposal's single side effect. A loan approval
// pledges collateral and disburses the loan; a trade approval issues the trade
// instruction; a parameter change writes the next parameter version. Expired
// proposals can never execute.
func (e *Engine) Execute(id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	proposal, err := e.load(id)
	if err != nil {
		return err
	}
	e.touch(proposal)
	switch proposal.Status {
	case ProposalStatusPassed:
	case ProposalStatusExpired:
		return coreerrors.Wrap(coreerrors.ErrProposalExpired, "proposal %d", id)
	case ProposalStatusExecuted:
		return coreerrors.Wrap(coreerrors.ErrProposalNotPassed, "proposal %d already executed", id)
	default:
		return coreerrors.Wrap(coreerrors.ErrProposalNotPassed, "proposal %d is %s", id, proposal.Status)
	}

	switch proposal.Kind {
	case ProposalKindLoanApproval:
		if e.loans == nil {
			return errLoansNotConfigured
		}
		if err := e.loans.ApproveLoan(Address(), proposal.LoanID); err != nil {
			return err
		}
		if err := e.loans.Disburse(Address(), proposal.LoanID); err != nil {
			return err
		}
	case ProposalKindTradeApproval:
		e.emitter.Emit(events.TradeApproved{
			ProposalID:   proposal.ID,
			AssetIn:      proposal.Trade.AssetIn,
			AssetOut:     proposal.Trade.AssetOut,
			AmountIn:     new(big.Int).Set(proposal.Trade.AmountIn),
			MinAmountOut: new(big.Int).Set(proposal.Trade.MinAmountOut),
			Deadline:     proposal.Trade.Deadline,
		})
	case ProposalKindParameterChange:
		delta, err := params.ParseDelta(proposal.Payload)
		if err != nil {
			return err
		}
		next, err := e.params.Apply(proposal.Payload)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(delta))
		for key := range delta {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		e.emitter.Emit(events.ParamsUpdated{Version: next.Version, Keys: keys})
	default:
		return coreerrors.Wrap(coreerrors.ErrInvalidProposal, "proposal %d has unsupported kind %d", id, proposal.Kind)
	}

	proposal.Status = ProposalStatusExecuted
	proposal.ClosedAt = e.now()
	if err := e.put(proposal); err != nil {
		return err
	}
	e.emitter.Emit(events.ProposalExecuted{ID: proposal.ID, Kind: proposal.Kind.String()})
	return nil
}

// Proposal returns the stored proposal with lazy expiry applied to the
// returned copy.
func (e *Engine) Proposal(id uint64) (*Proposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	proposal, err := e.load(id)
	if err != nil {
		return nil, err
	}
	e.touch(proposal)
	return proposal, nil
}

// Proposals lists every proposal in creation order.
func (e *Engine) Proposals() ([]*Proposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := nativecommon.IDs(e.state, proposalIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Proposal, 0, len(ids))
	for _, id := range ids {
		proposal, err := e.Proposal(id)
		if err != nil {
			return nil, err
		}
		out = append(out, proposal)
	}
	return out, nil
}

// Votes returns the ballots cast on a proposal in arrival order.
func (e *Engine) Votes(id uint64) ([]*Vote, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.load(id); err != nil {
		return nil, err
	}
	n, err := e.state.ListLen(voterIndexKey(id))
	if err != nil {
		return nil, err
	}
	out := make([]*Vote, 0, n)
	for i := uint64(0); i < n; i++ {
		var voter [20]byte
		if _, err := e.state.ListGet(voterIndexKey(id), i, &voter); err != nil {
			return nil, err
		}
		var vote Vote
		ok, err := e.state.KVGet(voteKey(id, voter), &vote)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		vote.Weight = nativecommon.Copy(vote.Weight)
		out = append(out, &vote)
	}
	return out, nil
}

// Tally summarises the ballots on a proposal.
func (e *Engine) Tally(id uint64) (*Tally, error) {
	proposal, err := e.Proposal(id)
	if err != nil {
		return nil, err
	}
	votes, err := e.Votes(id)
	if err != nil {
		return nil, err
	}
	return &Tally{
		Yes:     proposal.Yes,
		No:      proposal.No,
		Abstain: proposal.Abstain,
		Total:   proposal.totalWeight(),
		Quorum:  proposal.Quorum,
		Ballots: uint64(len(votes)),
	}, nil
}
