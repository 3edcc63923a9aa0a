package yield

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
	"yieldprotocol/native/vault"
	kvstore "yieldprotocol/storage"
)

var (
	alice    = [20]byte{0xa1}
	bob      = [20]byte{0xb0}
	treasury = [20]byte{0x7e}
	payer    = [20]byte{0x99}
)

func micro(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

type harness struct {
	tokens  *token.Engine
	bank    *bank.Ledger
	vaults  *vault.Engine
	engine  *Engine
	oracle  *oracle.ManualOracle
	emitted *events.Buffer
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	st := state.NewManager(db)
	h := &harness{
		oracle:  oracle.NewManualOracle(),
		emitted: &events.Buffer{},
		now:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	store := params.NewStore(st)
	p := params.Default()
	p.Committee = []string{"0x0000000000000000000000000000000000000001"}
	p.CommitteeQuorum = 1
	p.TreasuryAuthority = "0x7e00000000000000000000000000000000000000"
	if err := store.Initialise(p); err != nil {
		t.Fatalf("init params: %v", err)
	}
	guard := oracle.NewGuard(h.oracle, time.Hour)
	guard.SetNowFunc(func() time.Time { return h.now })
	if err := h.oracle.SetDecimal("PAXG", "USD", "1000", h.now); err != nil {
		t.Fatalf("price: %v", err)
	}

	h.tokens = token.NewEngine(st)
	h.bank = bank.NewLedger(st)
	h.vaults = vault.NewEngine(st, h.tokens, h.bank, guard, store)
	h.vaults.SetNowFunc(func() time.Time { return h.now })
	h.engine = NewEngine(st, h.tokens, h.vaults, h.bank, guard, store)
	h.engine.SetNowFunc(func() time.Time { return h.now })
	h.engine.SetEmitter(h.emitted)
	h.vaults.SetPenaltySink(h.engine)
	return h
}

func (h *harness) deposit(t *testing.T, owner [20]byte, asset string, amount *big.Int, lock types.LockPeriod) uint64 {
	t.Helper()
	if err := h.bank.Issue(owner, asset, amount); err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := h.vaults.Deposit(owner, asset, amount, lock)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return id
}

func (h *harness) book(t *testing.T, class types.AssetClass) *vault.Book {
	t.Helper()
	b, err := h.vaults.Book(class)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return b
}

func (h *harness) assertConserved(t *testing.T) {
	t.Helper()
	books, err := h.vaults.Books()
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	assets := big.NewInt(0)
	for _, b := range books {
		assets.Add(assets, b.Assets())
	}
	supply, _ := h.tokens.Supply()
	if assets.Cmp(supply.TotalBacking) != 0 {
		t.Fatalf("books %s diverge from backing %s", assets, supply.TotalBacking)
	}
}

func TestRealizedYieldTakesProtocolFee(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, "USDC", micro(1_000), types.LockThreeMonths)
	if err := h.bank.Issue(vault.CustodyAddress(types.AssetClassStable), "USDC", micro(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	report, err := h.engine.RecordRealizedYield(types.AssetClassStable, micro(100))
	if err != nil {
		t.Fatalf("record yield: %v", err)
	}
	if report.Fee.Cmp(micro(20)) != 0 || report.Net.Cmp(micro(80)) != 0 {
		t.Fatalf("unexpected split fee=%s net=%s", report.Fee, report.Net)
	}
	value, _ := h.tokens.BalanceOfUSD(alice)
	if value.Cmp(micro(1_080)) != 0 {
		t.Fatalf("expected holder value 1080, got %s", value)
	}
	if reserve := h.book(t, types.AssetClassStable).Reserve; reserve.Cmp(micro(20)) != 0 {
		t.Fatalf("expected 20 in reserve, got %s", reserve)
	}
	totals, _ := h.engine.Totals()
	if totals.Gross.Cmp(micro(100)) != 0 || totals.Fees.Cmp(micro(20)) != 0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	reports, _, _ := h.engine.Reports(0, 0)
	if len(reports) != 1 || reports[0].Kind != ReportRealized {
		t.Fatalf("unexpected reports %+v", reports)
	}
	h.assertConserved(t)
}

func TestYieldWithoutHoldersGoesToReserve(t *testing.T) {
	h := newHarness(t)
	report, err := h.engine.RecordRealizedYield(types.AssetClassStable, micro(50))
	if err != nil {
		t.Fatalf("record yield: %v", err)
	}
	if report.Net.Sign() != 0 || report.Fee.Cmp(micro(50)) != 0 {
		t.Fatalf("expected everything reserved, got %+v", report)
	}
	applied, err := h.engine.RecordLoss(types.AssetClassStable, micro(5))
	if err != nil {
		t.Fatalf("record loss: %v", err)
	}
	if applied.Sign() != 0 {
		t.Fatalf("no backing to absorb a loss, got %s", applied)
	}
}

func TestCrossVaultAllocationOrdersRebalance(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, "USDC", micro(1_000), types.LockThreeMonths)
	h.deposit(t, bob, "PAXG", micro(1), types.LockThreeMonths)
	if err := h.bank.Issue(vault.CustodyAddress(types.AssetClassStable), "USDC", micro(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.engine.RecordRealizedYield(types.AssetClassStable, micro(100)); err != nil {
		t.Fatalf("record yield: %v", err)
	}
	if liq := h.book(t, types.AssetClassStable).Liquidity; liq.Cmp(micro(1_040)) != 0 {
		t.Fatalf("stable liquidity %s", liq)
	}
	if liq := h.book(t, types.AssetClassCommodity).Liquidity; liq.Cmp(micro(1_040)) != 0 {
		t.Fatalf("commodity liquidity %s", liq)
	}
	orders, err := h.engine.OpenOrders()
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	order := orders[0]
	if order.From != types.AssetClassStable || order.To != types.AssetClassCommodity || order.USD.Cmp(micro(40)) != 0 {
		t.Fatalf("unexpected order %+v", order)
	}
	h.assertConserved(t)

	if _, err := h.engine.SettleRebalance(bob, order.ID, "USDC", "PAXG"); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized settlement, got %v", err)
	}
	if err := h.bank.Issue(treasury, "PAXG", big.NewInt(40_000)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.engine.SettleRebalance(treasury, order.ID, "PAXG", "USDC"); !errors.Is(err, coreerrors.ErrUnsupportedAsset) {
		t.Fatalf("expected asset/vault mismatch, got %v", err)
	}
	settled, err := h.engine.SettleRebalance(treasury, order.ID, "USDC", "PAXG")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != OrderSettled || settled.Operator != treasury {
		t.Fatalf("unexpected settled order %+v", settled)
	}
	usdc, _ := h.bank.Balance(treasury, "USDC")
	paxg, _ := h.bank.Balance(vault.CustodyAddress(types.AssetClassCommodity), "PAXG")
	if usdc.Cmp(micro(40)) != 0 || paxg.Cmp(big.NewInt(1_040_000)) != 0 {
		t.Fatalf("custody did not follow the order: treasury usdc=%s commodity paxg=%s", usdc, paxg)
	}
	if _, err := h.engine.SettleRebalance(treasury, order.ID, "USDC", "PAXG"); !errors.Is(err, coreerrors.ErrOrderSettled) {
		t.Fatalf("expected settled order rejection, got %v", err)
	}
	open, _ := h.engine.OpenOrders()
	if len(open) != 0 {
		t.Fatalf("expected no open orders")
	}
}

func TestLossIsSocializedAcrossVaults(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, "USDC", micro(1_000), types.LockThreeMonths)
	h.deposit(t, bob, "PAXG", micro(1), types.LockThreeMonths)
	if err := h.vaults.Draw(types.AssetClassStable, micro(500)); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := h.vaults.Restore(types.AssetClassStable, nil, micro(500)); err != nil {
		t.Fatalf("write off: %v", err)
	}
	before, _ := h.tokens.ExchangeRateRay()
	applied, err := h.engine.RecordLoss(types.AssetClassStable, micro(500))
	if err != nil {
		t.Fatalf("record loss: %v", err)
	}
	if applied.Cmp(micro(500)) != 0 {
		t.Fatalf("expected full loss applied, got %s", applied)
	}
	after, _ := h.tokens.ExchangeRateRay()
	if after.Cmp(before) >= 0 {
		t.Fatalf("loss must lower the exchange rate")
	}
	aliceValue, _ := h.tokens.BalanceOfUSD(alice)
	bobValue, _ := h.tokens.BalanceOfUSD(bob)
	if aliceValue.Cmp(micro(750)) != 0 || bobValue.Cmp(micro(750)) != 0 {
		t.Fatalf("loss not shared pro rata: alice=%s bob=%s", aliceValue, bobValue)
	}
	if liq := h.book(t, types.AssetClassStable).Liquidity; liq.Cmp(micro(750)) != 0 {
		t.Fatalf("stable liquidity %s", liq)
	}
	totals, _ := h.engine.Totals()
	if totals.Losses.Cmp(micro(500)) != 0 {
		t.Fatalf("unexpected loss total %s", totals.Losses)
	}
	h.assertConserved(t)
}

func TestEmergencyPenaltyIsRedistributed(t *testing.T) {
	h := newHarness(t)
	early := h.deposit(t, alice, "USDC", micro(1_000), types.LockTwelveMonths)
	h.deposit(t, bob, "USDC", micro(1_000), types.LockThreeMonths)
	if _, err := h.engine.DepositYield(payer, micro(1)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected unfunded payer to fail, got %v", err)
	}
	if err := h.bank.Issue(payer, "USDC", micro(375)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.engine.DepositYield(payer, micro(375)); err != nil {
		t.Fatalf("deposit yield: %v", err)
	}
	// 300 net over 3000 shares: alice is worth 1200, bob 1100.
	paid, err := h.vaults.EmergencyWithdraw(alice, early)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if paid.Cmp(micro(1_180)) != 0 {
		t.Fatalf("expected 1180 payout, got %s", paid)
	}
	bobValue, _ := h.tokens.BalanceOfUSD(bob)
	if bobValue.Cmp(micro(1_120)) != 0 {
		t.Fatalf("expected forfeited yield to reach bob, got %s", bobValue)
	}
	reports, _, _ := h.engine.Reports(0, 0)
	if len(reports) != 2 || reports[1].Kind != ReportPenalty || reports[1].Net.Cmp(micro(20)) != 0 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	h.assertConserved(t)
}

func TestLastHolderPenaltyGoesToReserve(t *testing.T) {
	h := newHarness(t)
	id := h.deposit(t, alice, "USDC", micro(1_000), types.LockTwelveMonths)
	if err := h.bank.Issue(payer, "USDC", micro(125)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.engine.DepositYield(payer, micro(125)); err != nil {
		t.Fatalf("deposit yield: %v", err)
	}
	paid, err := h.vaults.EmergencyWithdraw(alice, id)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if paid.Cmp(micro(1_090)) != 0 {
		t.Fatalf("expected 1090 payout, got %s", paid)
	}
	book := h.book(t, types.AssetClassStable)
	if book.Reserve.Cmp(micro(35)) != 0 || book.Liquidity.Sign() != 0 {
		t.Fatalf("expected fee plus penalty in reserve, got reserve=%s liquidity=%s", book.Reserve, book.Liquidity)
	}
	h.assertConserved(t)
}
