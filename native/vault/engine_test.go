package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/state"
	"yieldprotocol/core/types"
	"yieldprotocol/native/bank"
	"yieldprotocol/native/oracle"
	"yieldprotocol/native/params"
	"yieldprotocol/native/token"
	kvstore "yieldprotocol/storage"
)

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	carol = [20]byte{0xc0}
)

func micro(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

type recordingSink struct {
	calls []sinkCall
}

type sinkCall struct {
	class  types.AssetClass
	amount *big.Int
}

func (s *recordingSink) Redistribute(class types.AssetClass, amount *big.Int) error {
	s.calls = append(s.calls, sinkCall{class: class, amount: new(big.Int).Set(amount)})
	return nil
}

type fixture struct {
	state  *state.Manager
	tokens *token.Engine
	bank   *bank.Ledger
	oracle *oracle.ManualOracle
	params *params.Store
	vault  *Engine
	sink   *recordingSink
	events *events.Buffer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	f := &fixture{
		state:  state.NewManager(db),
		oracle: oracle.NewManualOracle(),
		sink:   &recordingSink{},
		events: &events.Buffer{},
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.tokens = token.NewEngine(f.state)
	f.bank = bank.NewLedger(f.state)
	f.params = params.NewStore(f.state)
	p := params.Default()
	p.Committee = []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003",
	}
	if err := f.params.Initialise(p); err != nil {
		t.Fatalf("init params: %v", err)
	}
	guard := oracle.NewGuard(f.oracle, time.Hour)
	guard.SetNowFunc(func() time.Time { return f.now })
	f.vault = NewEngine(f.state, f.tokens, f.bank, guard, f.params)
	f.vault.SetNowFunc(func() time.Time { return f.now })
	f.vault.SetPenaltySink(f.sink)
	f.vault.SetEmitter(f.events)
	return f
}

func (f *fixture) fund(t *testing.T, addr [20]byte, asset string, amount *big.Int) {
	t.Helper()
	if err := f.bank.Issue(addr, asset, amount); err != nil {
		t.Fatalf("issue: %v", err)
	}
}

func (f *fixture) deposit(t *testing.T, owner [20]byte, asset string, amount *big.Int, lock types.LockPeriod) uint64 {
	t.Helper()
	id, err := f.vault.Deposit(owner, asset, amount, lock)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return id
}

// realizeYield simulates interest arriving in stable custody and being booked.
func (f *fixture) realizeYield(t *testing.T, usd *big.Int) {
	t.Helper()
	f.fund(t, CustodyAddress(types.AssetClassStable), "USDC", usd)
	if _, err := f.tokens.ApplyYield(usd, false); err != nil {
		t.Fatalf("apply yield: %v", err)
	}
	if err := f.vault.Credit(types.AssetClassStable, usd); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	books, err := f.vault.Books()
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	assets := big.NewInt(0)
	for _, b := range books {
		assets.Add(assets, b.Assets())
	}
	supply, err := f.tokens.Supply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if assets.Cmp(supply.TotalBacking) != 0 {
		t.Fatalf("vault assets %s diverge from token backing %s", assets, supply.TotalBacking)
	}
}

func TestStableDepositMintsMultiplierShares(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(1_000))
	id := f.deposit(t, alice, "usdc", micro(1_000), types.LockTwelveMonths)

	pos, err := f.vault.Position(id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Shares.Cmp(micro(2_000)) != 0 {
		t.Fatalf("expected 2000 shares, got %s", pos.Shares)
	}
	if pos.Principal.Cmp(micro(1_000)) != 0 || pos.Class != types.AssetClassStable {
		t.Fatalf("unexpected position %+v", pos)
	}
	if want := uint64(f.now.Add(365 * types.Day).Unix()); pos.UnlockTime != want {
		t.Fatalf("unlock time %d, want %d", pos.UnlockTime, want)
	}
	held, _ := f.bank.Balance(CustodyAddress(types.AssetClassStable), "USDC")
	if held.Cmp(micro(1_000)) != 0 {
		t.Fatalf("custody holds %s", held)
	}
	value, _ := f.tokens.BalanceOfUSD(alice)
	if value.Cmp(micro(1_000)) != 0 {
		t.Fatalf("expected holder value 1000, got %s", value)
	}
	if f.events.Len() == 0 {
		t.Fatalf("expected deposit events")
	}
	f.assertConserved(t)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(10))
	if _, err := f.vault.Deposit(alice, "USDC", big.NewInt(0), types.LockThreeMonths); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.vault.Deposit(alice, "USDC", micro(1), types.LockPeriod(9)); !errors.Is(err, coreerrors.ErrUnknownLockPeriod) {
		t.Fatalf("expected unknown lock period, got %v", err)
	}
	if _, err := f.vault.Deposit(alice, "DOGE", micro(1), types.LockThreeMonths); !errors.Is(err, coreerrors.ErrUnsupportedAsset) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
	if _, err := f.vault.Deposit(alice, "USDC", micro(11), types.LockThreeMonths); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestCommodityDepositUsesOracle(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bob, "PAXG", micro(2))
	if _, err := f.vault.Deposit(bob, "PAXG", micro(1), types.LockSixMonths); !errors.Is(err, coreerrors.ErrOracleUnavailable) {
		t.Fatalf("expected oracle unavailable without a quote, got %v", err)
	}
	if err := f.oracle.SetDecimal("PAXG", "USD", "2000", f.now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := f.vault.Deposit(bob, "PAXG", micro(1), types.LockSixMonths); !errors.Is(err, coreerrors.ErrOracleUnavailable) {
		t.Fatalf("expected stale quote rejection, got %v", err)
	}
	if err := f.oracle.SetDecimal("PAXG", "USD", "2000", f.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	id := f.deposit(t, bob, "PAXG", micro(1), types.LockSixMonths)
	pos, _ := f.vault.Position(id)
	if pos.Principal.Cmp(micro(2_000)) != 0 || pos.Class != types.AssetClassCommodity {
		t.Fatalf("unexpected commodity position %+v", pos)
	}
	if pos.Shares.Cmp(micro(3_000)) != 0 {
		t.Fatalf("expected 1.5x shares, got %s", pos.Shares)
	}

	f.now = time.Unix(int64(pos.UnlockTime), 0).UTC()
	if err := f.oracle.SetDecimal("PAXG", "USD", "2000", f.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	paid, err := f.vault.Withdraw(bob, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(micro(2_000)) != 0 {
		t.Fatalf("expected 2000 USD back, got %s", paid)
	}
	units, _ := f.bank.Balance(bob, "PAXG")
	if units.Cmp(micro(2)) != 0 {
		t.Fatalf("expected commodity units returned, got %s", units)
	}
	f.assertConserved(t)
}

func TestWithdrawLockAndIdempotency(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(1_000))
	f.fund(t, bob, "USDC", micro(1_000))
	id := f.deposit(t, alice, "USDC", micro(1_000), types.LockThreeMonths)
	f.deposit(t, bob, "USDC", micro(1_000), types.LockThreeMonths)
	f.realizeYield(t, micro(200))

	pos, _ := f.vault.Position(id)
	f.now = time.Unix(int64(pos.UnlockTime)-1, 0).UTC()
	if _, err := f.vault.Withdraw(alice, id); !errors.Is(err, coreerrors.ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}
	f.now = f.now.Add(time.Second)
	if _, err := f.vault.Withdraw(bob, id); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	paid, err := f.vault.Withdraw(alice, id)
	if err != nil {
		t.Fatalf("withdraw at unlock: %v", err)
	}
	if paid.Cmp(micro(1_100)) != 0 {
		t.Fatalf("expected principal plus yield 1100, got %s", paid)
	}
	if _, err := f.vault.Withdraw(alice, id); !errors.Is(err, coreerrors.ErrAlreadyWithdrawn) {
		t.Fatalf("expected already withdrawn, got %v", err)
	}
	if _, err := f.vault.Withdraw(alice, 99); !errors.Is(err, coreerrors.ErrPositionNotFound) {
		t.Fatalf("expected position not found, got %v", err)
	}
	balance, _ := f.bank.Balance(alice, "USDC")
	if balance.Cmp(micro(1_100)) != 0 {
		t.Fatalf("unexpected alice balance %s", balance)
	}
	f.assertConserved(t)
}

func TestEmergencyWithdrawForfeitsYieldOnly(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(1_000))
	f.fund(t, bob, "USDC", micro(1_000))
	id := f.deposit(t, alice, "USDC", micro(1_000), types.LockTwelveMonths)
	f.deposit(t, bob, "USDC", micro(1_000), types.LockThreeMonths)
	f.realizeYield(t, micro(300))

	paid, err := f.vault.EmergencyWithdraw(alice, id)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	// Alice's value is 1200; a tenth of the 200 accrued is forfeited.
	if paid.Cmp(micro(1_180)) != 0 {
		t.Fatalf("expected 1180 payout, got %s", paid)
	}
	if len(f.sink.calls) != 1 || f.sink.calls[0].amount.Cmp(micro(20)) != 0 {
		t.Fatalf("expected 20 penalty redistributed, got %+v", f.sink.calls)
	}
	pos, _ := f.vault.Position(id)
	if pos.Status != PositionEmergencyWithdrawn || pos.Penalty.Cmp(micro(20)) != 0 {
		t.Fatalf("unexpected closed position %+v", pos)
	}
	if _, err := f.vault.EmergencyWithdraw(alice, id); !errors.Is(err, coreerrors.ErrAlreadyWithdrawn) {
		t.Fatalf("expected already withdrawn, got %v", err)
	}
}

func TestEmergencyWithdrawWithoutYieldKeepsPrincipal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(500))
	id := f.deposit(t, alice, "USDC", micro(500), types.LockSixMonths)
	paid, err := f.vault.EmergencyWithdraw(alice, id)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if paid.Cmp(micro(500)) != 0 {
		t.Fatalf("principal must be preserved, got %s", paid)
	}
	if len(f.sink.calls) != 0 {
		t.Fatalf("no penalty expected without yield")
	}
	f.assertConserved(t)
}

func TestWithdrawNeedsLiquidity(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(1_000))
	id := f.deposit(t, alice, "USDC", micro(1_000), types.LockThreeMonths)
	if err := f.vault.Draw(types.AssetClassStable, micro(600)); err != nil {
		t.Fatalf("draw: %v", err)
	}
	f.now = f.now.Add(91 * types.Day)
	if _, err := f.vault.Withdraw(alice, id); !errors.Is(err, coreerrors.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if err := f.vault.Draw(types.AssetClassStable, micro(401)); !errors.Is(err, coreerrors.ErrInsufficientLiquidity) {
		t.Fatalf("expected draw beyond liquidity to fail, got %v", err)
	}
	if err := f.vault.Restore(types.AssetClassStable, micro(600), nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := f.vault.Withdraw(alice, id); err != nil {
		t.Fatalf("withdraw after restore: %v", err)
	}
	f.assertConserved(t)
}

func TestPausedVaultRejectsDeposits(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(10))
	if _, err := f.params.Apply([]byte(`{"pauses":{"vault":true}}`)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.vault.Deposit(alice, "USDC", micro(1), types.LockThreeMonths); !errors.Is(err, coreerrors.ErrModulePaused) {
		t.Fatalf("expected paused module, got %v", err)
	}
}

func TestPositionsByOwner(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(30))
	first := f.deposit(t, alice, "USDC", micro(10), types.LockThreeMonths)
	second := f.deposit(t, alice, "USDC", micro(20), types.LockSixMonths)
	list, err := f.vault.Positions(alice)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(list) != 2 || list[0].ID != first || list[1].ID != second {
		t.Fatalf("unexpected positions %+v", list)
	}
	none, _ := f.vault.Positions(bob)
	if len(none) != 0 {
		t.Fatalf("expected no positions for bob")
	}
}

func TestTransferPositionMovesClaimAndLock(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(1_000))
	id := f.deposit(t, alice, "USDC", micro(1_000), types.LockTwelveMonths)

	if err := f.vault.TransferPosition(alice, id, alice); !errors.Is(err, coreerrors.ErrInvalidRecipient) {
		t.Fatalf("expected self transfer rejected, got %v", err)
	}
	if err := f.vault.TransferPosition(alice, id, [20]byte{}); !errors.Is(err, coreerrors.ErrInvalidRecipient) {
		t.Fatalf("expected zero recipient rejected, got %v", err)
	}
	if err := f.vault.TransferPosition(bob, id, carol); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected non-owner transfer rejected, got %v", err)
	}
	if err := f.vault.TransferPosition(alice, id, carol); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if mine, _ := f.vault.Positions(alice); len(mine) != 0 {
		t.Fatalf("sender still lists %d positions", len(mine))
	}
	theirs, _ := f.vault.Positions(carol)
	if len(theirs) != 1 || theirs[0].ID != id {
		t.Fatalf("recipient positions unexpected: %+v", theirs)
	}
	value, _ := f.vault.PositionValue(id)
	held, _ := f.tokens.BalanceOfUSD(carol)
	supply, _ := f.tokens.Supply()
	if value.Cmp(held) != 0 || value.Cmp(supply.TotalBacking) != 0 {
		t.Fatalf("position value %s, holder value %s, backing %s", value, held, supply.TotalBacking)
	}
	if left, _ := f.tokens.BalanceOfUSD(alice); left.Sign() != 0 {
		t.Fatalf("sender kept token value %s", left)
	}

	pos, _ := f.vault.Position(id)
	f.now = time.Unix(int64(pos.UnlockTime)-1, 0).UTC()
	if _, err := f.vault.Withdraw(carol, id); !errors.Is(err, coreerrors.ErrStillLocked) {
		t.Fatalf("lock must travel with the position, got %v", err)
	}
	f.now = f.now.Add(time.Second)
	if _, err := f.vault.Withdraw(alice, id); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected former owner rejected, got %v", err)
	}
	paid, err := f.vault.Withdraw(carol, id)
	if err != nil {
		t.Fatalf("withdraw after unlock: %v", err)
	}
	if paid.Cmp(micro(1_000)) != 0 {
		t.Fatalf("expected principal 1000, got %s", paid)
	}
	f.assertConserved(t)
}

func TestTransferredBackPositionListedOnce(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", micro(10))
	id := f.deposit(t, alice, "USDC", micro(10), types.LockThreeMonths)
	if err := f.vault.TransferPosition(alice, id, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := f.vault.TransferPosition(bob, id, alice); err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	mine, _ := f.vault.Positions(alice)
	if len(mine) != 1 {
		t.Fatalf("expected one position, got %d", len(mine))
	}
	if theirs, _ := f.vault.Positions(bob); len(theirs) != 0 {
		t.Fatalf("expected bob to hold none, got %d", len(theirs))
	}
}
