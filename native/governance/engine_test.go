package governance

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/state"
	"yieldprotocol/core/types"
	"yieldprotocol/native/params"
	"yieldprotocol/native/token"
	kvstore "yieldprotocol/storage"
)

type recordingLoans struct {
	approved  []uint64
	disbursed []uint64
	rejected  []uint64
	failWith  error
}

func (r *recordingLoans) ApproveLoan(caller [20]byte, loanID uint64) error {
	if caller != Address() {
		return coreerrors.ErrUnauthorized
	}
	r.approved = append(r.approved, loanID)
	return nil
}

func (r *recordingLoans) RejectLoan(caller [20]byte, loanID uint64) error {
	if caller != Address() {
		return coreerrors.ErrUnauthorized
	}
	r.rejected = append(r.rejected, loanID)
	return nil
}

func (r *recordingLoans) Disburse(caller [20]byte, loanID uint64) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.disbursed = append(r.disbursed, loanID)
	return nil
}

func member(i byte) [20]byte {
	var addr [20]byte
	addr[19] = i
	return addr
}

func memberHex(i byte) string {
	return fmt.Sprintf("0x%040x", i)
}

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	carol = [20]byte{0xc0}
)

func micro(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

type testEnv struct {
	state   *state.Manager
	params  *params.Store
	tokens  *token.Engine
	loans   *recordingLoans
	engine  *Engine
	emitted *events.Buffer
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	st := state.NewManager(db)
	env := &testEnv{
		state:   st,
		params:  params.NewStore(st),
		tokens:  token.NewEngine(st),
		loans:   &recordingLoans{},
		emitted: &events.Buffer{},
		now:     time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	p := params.Default()
	for i := byte(1); i <= 5; i++ {
		p.Committee = append(p.Committee, memberHex(i))
	}
	if err := env.params.Initialise(p); err != nil {
		t.Fatalf("init params: %v", err)
	}
	env.tokens.SetHeightFunc(func() uint64 {
		h, _ := st.Height()
		return h
	})
	env.engine = NewEngine(st, env.params, env.tokens)
	env.engine.SetLoans(env.loans)
	env.engine.SetEmitter(env.emitted)
	env.engine.SetNowFunc(func() time.Time { return env.now })
	return env
}

func (env *testEnv) advance(t *testing.T) {
	t.Helper()
	if _, err := env.state.AdvanceHeight(); err != nil {
		t.Fatalf("advance height: %v", err)
	}
}

func (env *testEnv) mint(t *testing.T, to [20]byte, usd *big.Int) {
	t.Helper()
	if _, err := env.tokens.Mint(to, usd, 10_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (env *testEnv) loanProposal(t *testing.T, loanID uint64) uint64 {
	t.Helper()
	id, err := env.engine.SubmitLoanProposal(alice, loanID)
	if err != nil {
		t.Fatalf("submit loan proposal: %v", err)
	}
	return id
}

func (env *testEnv) status(t *testing.T, id uint64) ProposalStatus {
	t.Helper()
	proposal, err := env.engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	return proposal.Status
}

func TestCommitteeQuorumPassesAtThree(t *testing.T) {
	env := newTestEnv(t)
	id := env.loanProposal(t, 7)

	for _, i := range []byte{1, 2} {
		status, err := env.engine.CastCommitteeVote(id, member(i), true)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if status != ProposalStatusOpen {
			t.Fatalf("two approvals must not pass, got %s", status)
		}
	}
	if _, err := env.engine.CastCommitteeVote(id, member(1), true); !errors.Is(err, coreerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}
	if _, err := env.engine.CastCommitteeVote(id, member(9), true); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized non-member, got %v", err)
	}
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalNotPassed) {
		t.Fatalf("open proposal cannot execute, got %v", err)
	}
	status, err := env.engine.CastCommitteeVote(id, member(3), true)
	if err != nil || status != ProposalStatusPassed {
		t.Fatalf("third approval should pass: %s %v", status, err)
	}
	if _, err := env.engine.CastCommitteeVote(id, member(4), false); !errors.Is(err, coreerrors.ErrProposalNotOpen) {
		t.Fatalf("passed proposal takes no ballots, got %v", err)
	}
	if err := env.engine.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(env.loans.approved) != 1 || env.loans.approved[0] != 7 || len(env.loans.disbursed) != 1 {
		t.Fatalf("expected approve and disburse of loan 7: %+v", env.loans)
	}
	if env.status(t, id) != ProposalStatusExecuted {
		t.Fatalf("expected executed")
	}
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalNotPassed) {
		t.Fatalf("second execution must fail, got %v", err)
	}
	votes, _ := env.engine.Votes(id)
	if len(votes) != 3 {
		t.Fatalf("expected 3 ballots, got %d", len(votes))
	}
}

func TestCommitteeRejectsWhenQuorumUnreachable(t *testing.T) {
	env := newTestEnv(t)
	id := env.loanProposal(t, 3)
	for _, i := range []byte{1, 2} {
		if _, err := env.engine.CastCommitteeVote(id, member(i), false); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if env.status(t, id) != ProposalStatusOpen {
		t.Fatalf("three approvals are still possible")
	}
	status, err := env.engine.CastCommitteeVote(id, member(3), false)
	if err != nil || status != ProposalStatusRejected {
		t.Fatalf("third rejection should close the proposal: %s %v", status, err)
	}
	if len(env.loans.rejected) != 1 || env.loans.rejected[0] != 3 {
		t.Fatalf("loan should be rejected: %+v", env.loans)
	}
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalNotPassed) {
		t.Fatalf("rejected proposal cannot execute, got %v", err)
	}
}

func TestCommitteeElectorateIsFrozen(t *testing.T) {
	env := newTestEnv(t)
	id := env.loanProposal(t, 1)
	delta := fmt.Sprintf(`{"committee":["%s","%s","%s"]}`, memberHex(6), memberHex(7), memberHex(8))
	if _, err := env.params.Apply([]byte(delta)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.engine.CastCommitteeVote(id, member(6), true); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("new member cannot vote on an older proposal, got %v", err)
	}
	if _, err := env.engine.CastCommitteeVote(id, member(1), true); err != nil {
		t.Fatalf("original member vote: %v", err)
	}
}

func TestExpiredProposalCannotExecute(t *testing.T) {
	env := newTestEnv(t)
	id := env.loanProposal(t, 1)
	if _, err := env.engine.Expire(id); !errors.Is(err, coreerrors.ErrProposalNotOpen) {
		t.Fatalf("expire inside the window must fail, got %v", err)
	}
	for _, i := range []byte{1, 2} {
		if _, err := env.engine.CastCommitteeVote(id, member(i), true); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	env.now = env.now.Add(3*types.Day + time.Second)

	if _, err := env.engine.CastCommitteeVote(id, member(3), true); !errors.Is(err, coreerrors.ErrProposalExpired) {
		t.Fatalf("late ballot must fail with expiry, got %v", err)
	}
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalExpired) {
		t.Fatalf("expected proposal expired, got %v", err)
	}
	if env.status(t, id) != ProposalStatusExpired {
		t.Fatalf("view should report lazy expiry")
	}
	status, err := env.engine.Expire(id)
	if err != nil || status != ProposalStatusExpired {
		t.Fatalf("expire: %s %v", status, err)
	}
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalExpired) {
		t.Fatalf("stored expiry must still block execution, got %v", err)
	}
	if len(env.loans.approved) != 0 {
		t.Fatalf("expired proposal must have no side effect")
	}
	if len(env.loans.rejected) != 1 || env.loans.rejected[0] != 1 {
		t.Fatalf("expiry should reject the loan once, got %v", env.loans.rejected)
	}
}

func TestFailedExecutionLeavesProposalPassed(t *testing.T) {
	env := newTestEnv(t)
	id := env.loanProposal(t, 4)
	for _, i := range []byte{1, 2, 3} {
		if _, err := env.engine.CastCommitteeVote(id, member(i), true); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	env.loans.failWith = coreerrors.ErrInsufficientLiquidity
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrInsufficientLiquidity) {
		t.Fatalf("expected liquidity failure, got %v", err)
	}
	if env.status(t, id) != ProposalStatusPassed {
		t.Fatalf("failed execution must leave the proposal passed")
	}
}

func TestParamProposalAdmission(t *testing.T) {
	env := newTestEnv(t)
	env.advance(t)
	env.mint(t, alice, micro(5_000))
	env.mint(t, bob, micro(500))

	if _, err := env.engine.ProposeParamChange(bob, []byte(`{"protocolFeeBps":1000}`)); !errors.Is(err, coreerrors.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	if _, err := env.engine.ProposeParamChange(alice, []byte(`{"version":9}`)); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("expected reserved key rejection, got %v", err)
	}
	if _, err := env.engine.ProposeParamChange(alice, []byte(`{"protocolFeeBps":20000}`)); !errors.Is(err, coreerrors.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	id, err := env.engine.ProposeParamChange(alice, []byte(`{"protocolFeeBps":1000}`))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	proposal, _ := env.engine.Proposal(id)
	if proposal.Kind != ProposalKindParameterChange || proposal.SnapshotHeight != 1 || proposal.SnapshotTotal.Cmp(micro(5_500)) != 0 {
		t.Fatalf("unexpected proposal %+v", proposal)
	}
	if _, err := env.engine.CastCommitteeVote(id, member(1), true); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("committee ballots do not apply to parameter changes, got %v", err)
	}
}

func TestSnapshotVotingIgnoresLaterBalances(t *testing.T) {
	env := newTestEnv(t)
	env.advance(t)
	env.mint(t, alice, micro(6_000))
	env.mint(t, bob, micro(4_000))
	id, err := env.engine.ProposeParamChange(alice, []byte(`{"protocolFeeBps":1000}`))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	env.advance(t)
	env.mint(t, bob, micro(5_000))
	env.mint(t, carol, micro(10_000))

	if _, err := env.engine.CastVote(id, carol, "yes"); !errors.Is(err, coreerrors.ErrInsufficientStake) {
		t.Fatalf("holder without snapshot balance cannot vote, got %v", err)
	}
	if _, err := env.engine.CastVote(id, bob, "maybe"); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("expected invalid choice, got %v", err)
	}
	status, err := env.engine.CastVote(id, bob, "no")
	if err != nil || status != ProposalStatusOpen {
		t.Fatalf("bob vote: %s %v", status, err)
	}
	votes, _ := env.engine.Votes(id)
	if len(votes) != 1 || votes[0].Weight.Cmp(micro(4_000)) != 0 {
		t.Fatalf("bob should vote with his snapshot weight: %+v", votes)
	}
	status, err = env.engine.CastVote(id, alice, " YES ")
	if err != nil || status != ProposalStatusPassed {
		t.Fatalf("alice vote should pass the proposal: %s %v", status, err)
	}

	env.emitted.Discard()
	if err := env.engine.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	p, _ := env.params.Params()
	if p.ProtocolFeeBps != 1_000 || p.Version != 2 {
		t.Fatalf("params not applied: fee=%d version=%d", p.ProtocolFeeBps, p.Version)
	}
	var updated *events.ParamsUpdated
	for _, evt := range env.emitted.Drain() {
		if u, ok := evt.(events.ParamsUpdated); ok {
			updated = &u
		}
	}
	if updated == nil || updated.Version != 2 || len(updated.Keys) != 1 || updated.Keys[0] != "protocolFeeBps" {
		t.Fatalf("unexpected params event %+v", updated)
	}
}

func TestDAOQuorumIsStrict(t *testing.T) {
	env := newTestEnv(t)
	env.advance(t)
	env.mint(t, alice, micro(5_000))
	env.mint(t, bob, micro(5_000))
	id, err := env.engine.ProposeParamChange(alice, []byte(`{"emergencyPenaltyBps":2500}`))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	status, err := env.engine.CastVote(id, alice, "yes")
	if err != nil || status != ProposalStatusOpen {
		t.Fatalf("exactly half must not pass: %s %v", status, err)
	}
	status, err = env.engine.CastVote(id, bob, "abstain")
	if err != nil || status != ProposalStatusRejected {
		t.Fatalf("abstention leaves quorum unreachable: %s %v", status, err)
	}
	tally, err := env.engine.Tally(id)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Yes.Cmp(micro(5_000)) != 0 || tally.Abstain.Cmp(micro(5_000)) != 0 || tally.Ballots != 2 {
		t.Fatalf("unexpected tally %+v", tally)
	}
	if len(env.loans.rejected) != 0 {
		t.Fatalf("parameter rejection must not touch lending")
	}
}

func tradeOrder(env *testEnv, deadline time.Duration) TradeOrder {
	return TradeOrder{
		AssetIn:      " paxg ",
		AssetOut:     "USDC",
		AmountIn:     big.NewInt(2_000_000),
		MinAmountOut: micro(4_700),
		Deadline:     uint64(env.now.Add(deadline).Unix()),
	}
}

func TestTradeProposalAdmission(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.SubmitTradeProposal(alice, tradeOrder(env, types.Day)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("non-member proposer must be rejected, got %v", err)
	}
	stale := tradeOrder(env, 0)
	if _, err := env.engine.SubmitTradeProposal(member(1), stale); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("deadline in the past must be rejected, got %v", err)
	}
	same := tradeOrder(env, types.Day)
	same.AssetOut = "PAXG"
	if _, err := env.engine.SubmitTradeProposal(member(1), same); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("same-asset trade must be rejected, got %v", err)
	}
	empty := tradeOrder(env, types.Day)
	empty.AmountIn = big.NewInt(0)
	if _, err := env.engine.SubmitTradeProposal(member(1), empty); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("zero amount must be rejected, got %v", err)
	}

	id, err := env.engine.SubmitTradeProposal(member(1), tradeOrder(env, types.Day))
	if err != nil {
		t.Fatalf("submit trade: %v", err)
	}
	proposal, _ := env.engine.Proposal(id)
	if proposal.Kind != ProposalKindTradeApproval || proposal.Trade.AssetIn != "PAXG" || proposal.Quorum != 3 || len(proposal.Electorate) != 5 {
		t.Fatalf("unexpected proposal %+v", proposal)
	}
	if _, err := env.engine.CastVote(id, alice, "yes"); !errors.Is(err, coreerrors.ErrInvalidProposal) {
		t.Fatalf("trade proposals take committee ballots only, got %v", err)
	}
}

func TestTradeExecutesAtQuorumBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.engine.SubmitTradeProposal(member(2), tradeOrder(env, types.Day))
	if err != nil {
		t.Fatalf("submit trade: %v", err)
	}
	for _, i := range []byte{1, 2, 3} {
		if _, err := env.engine.CastCommitteeVote(id, member(i), true); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if env.status(t, id) != ProposalStatusPassed {
		t.Fatalf("three approvals should pass the trade")
	}
	if _, err := env.engine.Expire(id); !errors.Is(err, coreerrors.ErrProposalNotOpen) {
		t.Fatalf("a passed trade inside its deadline cannot expire, got %v", err)
	}
	env.emitted.Drain()
	if err := env.engine.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var trade *events.TradeApproved
	for _, evt := range env.emitted.Drain() {
		if e, ok := evt.(events.TradeApproved); ok {
			trade = &e
		}
	}
	if trade == nil || trade.AssetIn != "PAXG" || trade.AssetOut != "USDC" || trade.MinAmountOut.Cmp(micro(4_700)) != 0 {
		t.Fatalf("expected trade instruction, got %+v", trade)
	}
	if env.status(t, id) != ProposalStatusExecuted {
		t.Fatalf("expected executed")
	}
	if len(env.loans.approved) != 0 {
		t.Fatalf("trades must not touch lending")
	}
}

func TestPassedTradeExpiresAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.engine.SubmitTradeProposal(member(1), tradeOrder(env, 12*time.Hour))
	if err != nil {
		t.Fatalf("submit trade: %v", err)
	}
	for _, i := range []byte{1, 2, 3} {
		if _, err := env.engine.CastCommitteeVote(id, member(i), true); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	env.now = env.now.Add(12*time.Hour + time.Second)
	if err := env.engine.Execute(id); !errors.Is(err, coreerrors.ErrProposalExpired) {
		t.Fatalf("trade past its deadline must not execute, got %v", err)
	}
	status, err := env.engine.Expire(id)
	if err != nil || status != ProposalStatusExpired {
		t.Fatalf("expire: %s %v", status, err)
	}
	if len(env.loans.rejected) != 0 {
		t.Fatalf("expiring a trade must not touch lending")
	}
}
