package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/genesis"
	"yieldprotocol/core/types"
	"yieldprotocol/native/collateral"
	"yieldprotocol/native/governance"
	"yieldprotocol/native/lending"
	"yieldprotocol/observability/logging"
	"yieldprotocol/storage"
)

var (
	alice      = [20]byte{0xa1}
	borrower   = [20]byte{0xb2}
	carol      = [20]byte{0xc3}
	liquidator = [20]byte{0x1d}
	valuer     = [20]byte{0x5e}
	treasury   = [20]byte{0x7e}
)

var yearTerms = lending.Terms{InterestBps: 1_000, DurationSecs: 365 * 24 * 60 * 60}

func micro(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func requireAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zerof(t, want.Cmp(got), "want %s, got %s", want, got)
}

func member(i byte) [20]byte {
	var addr [20]byte
	addr[19] = i
	return addr
}

func hexAddr(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr[:])
}

type env struct {
	ledger   *Ledger
	now      time.Time
	receipts []Receipt
	logs     *bytes.Buffer
	ctx      context.Context
}

func genesisDoc() string {
	return `{
  "genesisTime": "2026-03-01T00:00:00Z",
  "params": {
    "committee": ["` + hexAddr(member(1)) + `","` + hexAddr(member(2)) + `","` + hexAddr(member(3)) + `","` + hexAddr(member(4)) + `","` + hexAddr(member(5)) + `"],
    "liquidatorAuthority": "` + hexAddr(liquidator) + `",
    "valuationAuthority": "` + hexAddr(valuer) + `",
    "treasuryAuthority": "` + hexAddr(treasury) + `"
  },
  "alloc": {
    "` + hexAddr(alice) + `": {"USDC": "20000000000", "PAXG": "5000000"},
    "` + hexAddr(borrower) + `": {"USDC": "1000000000"},
    "` + hexAddr(carol) + `": {"USDC": "50000000000"}
  },
  "prices": {"PAXG": "2400"}
}`
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		logs: &bytes.Buffer{},
		ctx:  context.Background(),
	}
	db := storage.NewMemDB()
	logger := slog.New(logging.NewHandler(e.logs, slog.LevelDebug))
	ledger, err := NewLedger(db, WithLogger(logger), WithClock(func() time.Time { return e.now }))
	require.NoError(t, err)
	t.Cleanup(ledger.Close)
	ledger.Subscribe(func(r Receipt) { e.receipts = append(e.receipts, r) })

	spec, err := genesis.ParseGenesisSpec([]byte(genesisDoc()))
	require.NoError(t, err)
	require.NoError(t, ledger.InitGenesis(e.ctx, spec))
	e.ledger = ledger
	return e
}

func (e *env) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *env) lastReceipt(t *testing.T) Receipt {
	t.Helper()
	require.NotEmpty(t, e.receipts)
	return e.receipts[len(e.receipts)-1]
}

func eventTypes(r Receipt) []string {
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.Type)
	}
	return out
}

// approveLoan casts three committee approvals.
func (e *env) approveLoan(t *testing.T, proposalID uint64) {
	t.Helper()
	for i := byte(1); i <= 3; i++ {
		status, err := e.ledger.CommitteeVote(e.ctx, proposalID, member(i), true)
		require.NoError(t, err)
		if i < 3 {
			require.Equal(t, governance.ProposalStatusOpen, status)
		} else {
			require.Equal(t, governance.ProposalStatusPassed, status)
		}
	}
}

func TestGenesisSeedsLedger(t *testing.T) {
	e := newEnv(t)

	p, err := e.ledger.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Version)
	require.Len(t, p.Committee, 5)

	bal, err := e.ledger.AssetBalance(alice, "usdc")
	require.NoError(t, err)
	requireAmount(t, micro(20_000), bal)

	height, err := e.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	r := e.lastReceipt(t)
	require.Equal(t, "genesis.init", r.Op)
	require.NotEmpty(t, r.TxID)
	require.Contains(t, eventTypes(r), events.TypeIssue)

	spec, err := genesis.ParseGenesisSpec([]byte(genesisDoc()))
	require.NoError(t, err)
	require.ErrorIs(t, e.ledger.InitGenesis(e.ctx, spec), ErrAlreadyInitialised)
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	id, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(1_000), types.LockThreeMonths)
	require.NoError(t, err)

	before, err := e.ledger.Height()
	require.NoError(t, err)
	receipts := len(e.receipts)

	_, err = e.ledger.Withdraw(e.ctx, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrStillLocked)
	require.Equal(t, coreerrors.KindState, coreerrors.KindOf(err))

	after, err := e.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, before, after, "rejected call must not advance the height")
	require.Len(t, e.receipts, receipts, "rejected call must not publish a receipt")

	pos, err := e.ledger.Position(id)
	require.NoError(t, err)
	requireAmount(t, micro(1_000), pos.Principal)

	e.advance(90 * types.Day)
	paid, err := e.ledger.Withdraw(e.ctx, alice, id)
	require.NoError(t, err)
	requireAmount(t, micro(1_000), paid)
	_, err = e.ledger.Withdraw(e.ctx, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyWithdrawn)
}

func TestUnauthorizedCallIsLoggedAsSecurityEvent(t *testing.T) {
	e := newEnv(t)
	id, err := e.ledger.RegisterCollateral(e.ctx, borrower, micro(3_000), 80, collateral.Metadata{Batch: "LOT-7"})
	require.NoError(t, err)

	err = e.ledger.RevalueCollateral(e.ctx, borrower, id, micro(9_000))
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	logs := e.logs.String()
	require.Contains(t, logs, `"severity":"WARN"`)
	require.Contains(t, logs, `"security":true`)
	require.Contains(t, logs, `"op":"collateral.revalue"`)

	require.NoError(t, e.ledger.RevalueCollateral(e.ctx, valuer, id, micro(2_500)))
	rec, err := e.ledger.Collateral(id)
	require.NoError(t, err)
	requireAmount(t, micro(2_500), rec.DeclaredValue)
}

func TestLoanRejectedBelowMinimumCoverage(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(10_000), types.LockThreeMonths)
	require.NoError(t, err)
	collateralID, err := e.ledger.RegisterCollateral(e.ctx, borrower, micro(1_000), 80, collateral.Metadata{Batch: "LOT-1"})
	require.NoError(t, err)

	_, _, err = e.ledger.ProposeLoan(e.ctx, borrower, micro(1_500), collateralID, yearTerms)
	require.ErrorIs(t, err, coreerrors.ErrUnderCollateralized)
	require.Equal(t, coreerrors.KindResource, coreerrors.KindOf(err))

	proposals, err := e.ledger.Proposals()
	require.NoError(t, err)
	require.Empty(t, proposals)
}

func TestLoanLifecycleRaisesHolderValue(t *testing.T) {
	e := newEnv(t)
	positionID, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(10_000), types.LockThreeMonths)
	require.NoError(t, err)
	collateralID, err := e.ledger.RegisterCollateral(e.ctx, borrower, micro(3_000), 80, collateral.Metadata{Batch: "LOT-2", QuantityKg: 4_000})
	require.NoError(t, err)

	loanID, proposalID, err := e.ledger.ProposeLoan(e.ctx, borrower, micro(2_000), collateralID, yearTerms)
	require.NoError(t, err)
	_, err = e.ledger.CommitteeVote(e.ctx, proposalID, carol, true)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	e.approveLoan(t, proposalID)
	_, err = e.ledger.CommitteeVote(e.ctx, proposalID, member(1), true)
	require.Error(t, err)

	require.NoError(t, e.ledger.ExecuteProposal(e.ctx, proposalID))
	require.Contains(t, eventTypes(e.lastReceipt(t)), events.TypeProposalExecuted)

	loan, err := e.ledger.Loan(loanID)
	require.NoError(t, err)
	require.Equal(t, lending.StatusActive, loan.Status)
	requireAmount(t, micro(200), loan.InterestDue)

	bal, err := e.ledger.AssetBalance(borrower, "USDC")
	require.NoError(t, err)
	requireAmount(t, micro(3_000), bal)
	rec, err := e.ledger.Collateral(collateralID)
	require.NoError(t, err)
	require.Equal(t, collateral.StatusLocked, rec.Status)

	e.advance(200 * types.Day)
	defaulted, err := e.ledger.CheckDefault(e.ctx, loanID)
	require.NoError(t, err)
	require.False(t, defaulted)

	res, err := e.ledger.Repay(e.ctx, borrower, loanID, micro(2_200))
	require.NoError(t, err)
	require.True(t, res.Closed)

	value, err := e.ledger.PositionValue(positionID)
	require.NoError(t, err)
	requireAmount(t, micro(10_160), value)
	totals, err := e.ledger.YieldTotals()
	require.NoError(t, err)
	requireAmount(t, micro(200), totals.Gross)
	requireAmount(t, micro(40), totals.Fees)

	rec, err = e.ledger.Collateral(collateralID)
	require.NoError(t, err)
	require.Equal(t, collateral.StatusReleased, rec.Status)
	loans, err := e.ledger.LoansOf(borrower)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, lending.StatusRepaid, loans[0].Status)
}

func TestFailedExecutionRollsBackApproval(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(1_000), types.LockThreeMonths)
	require.NoError(t, err)
	collateralID, err := e.ledger.RegisterCollateral(e.ctx, borrower, micro(3_000), 80, collateral.Metadata{Batch: "LOT-3"})
	require.NoError(t, err)
	loanID, proposalID, err := e.ledger.ProposeLoan(e.ctx, borrower, micro(2_000), collateralID, yearTerms)
	require.NoError(t, err)
	e.approveLoan(t, proposalID)

	err = e.ledger.ExecuteProposal(e.ctx, proposalID)
	require.ErrorIs(t, err, coreerrors.ErrInsufficientLiquidity)

	loan, err := e.ledger.Loan(loanID)
	require.NoError(t, err)
	require.Equal(t, lending.StatusProposed, loan.Status, "approval written before the failed draw must be reverted")
	rec, err := e.ledger.Collateral(collateralID)
	require.NoError(t, err)
	require.Equal(t, collateral.StatusReserved, rec.Status)
	prop, err := e.ledger.Proposal(proposalID)
	require.NoError(t, err)
	require.Equal(t, governance.ProposalStatusPassed, prop.Status)

	_, err = e.ledger.Deposit(e.ctx, carol, "USDC", micro(5_000), types.LockSixMonths)
	require.NoError(t, err)
	require.NoError(t, e.ledger.ExecuteProposal(e.ctx, proposalID))
	loan, err = e.ledger.Loan(loanID)
	require.NoError(t, err)
	require.Equal(t, lending.StatusActive, loan.Status)
	require.ErrorIs(t, e.ledger.ExecuteProposal(e.ctx, proposalID), coreerrors.ErrProposalNotPassed)
}

func TestExpiredLoanProposalCannotExecute(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(10_000), types.LockThreeMonths)
	require.NoError(t, err)
	collateralID, err := e.ledger.RegisterCollateral(e.ctx, borrower, micro(3_000), 80, collateral.Metadata{Batch: "LOT-4"})
	require.NoError(t, err)
	loanID, proposalID, err := e.ledger.ProposeLoan(e.ctx, borrower, micro(2_000), collateralID, yearTerms)
	require.NoError(t, err)
	_, err = e.ledger.CommitteeVote(e.ctx, proposalID, member(1), true)
	require.NoError(t, err)

	e.advance(3*types.Day + time.Second)
	_, err = e.ledger.CommitteeVote(e.ctx, proposalID, member(2), true)
	require.ErrorIs(t, err, coreerrors.ErrProposalExpired)
	require.ErrorIs(t, e.ledger.ExecuteProposal(e.ctx, proposalID), coreerrors.ErrProposalExpired)

	status, err := e.ledger.ExpireProposal(e.ctx, proposalID)
	require.NoError(t, err)
	require.Equal(t, governance.ProposalStatusExpired, status)
	require.ErrorIs(t, e.ledger.ExecuteProposal(e.ctx, proposalID), coreerrors.ErrProposalExpired)

	loan, err := e.ledger.Loan(loanID)
	require.NoError(t, err)
	require.Equal(t, lending.StatusRejected, loan.Status)
	rec, err := e.ledger.Collateral(collateralID)
	require.NoError(t, err)
	require.Equal(t, collateral.StatusRegistered, rec.Status, "an expired proposal frees the reserved lot")
}

func TestParameterChangeUsesOpeningSnapshot(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Deposit(e.ctx, alice, "USDC", micro(4_000), types.LockThreeMonths)
	require.NoError(t, err)
	_, err = e.ledger.Deposit(e.ctx, borrower, "USDC", micro(1_000), types.LockThreeMonths)
	require.NoError(t, err)

	proposalID, err := e.ledger.ProposeParamChange(e.ctx, alice, []byte(`{"protocolFeeBps":1000}`))
	require.NoError(t, err)

	// Carol's deposit lands after the snapshot and carries no weight.
	_, err = e.ledger.Deposit(e.ctx, carol, "USDC", micro(40_000), types.LockTwelveMonths)
	require.NoError(t, err)
	_, err = e.ledger.Vote(e.ctx, proposalID, carol, "yes")
	require.ErrorIs(t, err, coreerrors.ErrInsufficientStake)

	status, err := e.ledger.Vote(e.ctx, proposalID, alice, "YES")
	require.NoError(t, err)
	require.Equal(t, governance.ProposalStatusPassed, status)

	tally, err := e.ledger.Tally(proposalID)
	require.NoError(t, err)
	requireAmount(t, micro(4_000), tally.Yes)
	requireAmount(t, micro(5_000), tally.Total)

	require.NoError(t, e.ledger.ExecuteProposal(e.ctx, proposalID))
	p, err := e.ledger.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), p.ProtocolFeeBps)
	require.Equal(t, uint64(2), p.Version)
	require.Contains(t, eventTypes(e.lastReceipt(t)), events.TypeParamsUpdated)
}

func TestCommodityDepositNeedsFreshPrice(t *testing.T) {
	e := newEnv(t)
	id, err := e.ledger.Deposit(e.ctx, alice, "PAXG", big.NewInt(2_000_000), types.LockSixMonths)
	require.NoError(t, err)
	pos, err := e.ledger.Position(id)
	require.NoError(t, err)
	requireAmount(t, micro(4_800), pos.Principal)

	e.advance(2 * time.Hour)
	_, err = e.ledger.Deposit(e.ctx, alice, "PAXG", big.NewInt(1_000_000), types.LockSixMonths)
	require.ErrorIs(t, err, coreerrors.ErrOracleUnavailable)

	require.NoError(t, e.ledger.SetPrice("paxg", "2500"))
	id, err = e.ledger.Deposit(e.ctx, alice, "PAXG", big.NewInt(1_000_000), types.LockSixMonths)
	require.NoError(t, err)
	pos, err = e.ledger.Position(id)
	require.NoError(t, err)
	requireAmount(t, micro(2_500), pos.Principal)
}

func TestIssueAssetRequiresTreasury(t *testing.T) {
	e := newEnv(t)
	err := e.ledger.IssueAsset(e.ctx, alice, alice, "USDC", micro(1))
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	require.NoError(t, e.ledger.IssueAsset(e.ctx, treasury, borrower, "usdc", micro(250)))
	bal, err := e.ledger.AssetBalance(borrower, "USDC")
	require.NoError(t, err)
	requireAmount(t, micro(1_250), bal)
	err = e.ledger.IssueAsset(e.ctx, treasury, borrower, "DOGE", micro(1))
	require.ErrorIs(t, err, coreerrors.ErrUnsupportedAsset)
}

func TestCancelledContextIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ledger.Deposit(ctx, alice, "USDC", micro(1), types.LockThreeMonths)
	require.ErrorIs(t, err, context.Canceled)
}
