package collateral

import (
	"errors"
	"math/big"
	"testing"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/state"
	"yieldprotocol/native/params"
	kvstore "yieldprotocol/storage"
)

var (
	owner  = [20]byte{0x0a}
	valuer = [20]byte{0x5e}
)

type staticParams struct {
	p params.ProtocolParams
}

func (s staticParams) Params() (params.ProtocolParams, error) { return s.p, nil }

func newTestRegistry(t *testing.T) (*Registry, *events.Buffer, *staticParams) {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	p := &staticParams{p: params.Default()}
	p.p.ValuationAuthority = "0x5e00000000000000000000000000000000000000"
	reg := NewRegistry(state.NewManager(db), p)
	buf := &events.Buffer{}
	reg.SetEmitter(buf)
	return reg, buf, p
}

func register(t *testing.T, reg *Registry, value int64) uint64 {
	t.Helper()
	id, err := reg.Register(owner, big.NewInt(value), 80, Metadata{Batch: " LOT-7 ", QuantityKg: 1_200, Origin: "Huila"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestRegisterValidation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	if _, err := reg.Register(owner, big.NewInt(0), 50, Metadata{}); !errors.Is(err, coreerrors.ErrInvalidValuation) {
		t.Fatalf("expected invalid valuation, got %v", err)
	}
	if _, err := reg.Register(owner, big.NewInt(-5), 50, Metadata{}); !errors.Is(err, coreerrors.ErrInvalidValuation) {
		t.Fatalf("expected invalid valuation for negative value, got %v", err)
	}
	for _, grade := range []uint64{0, 101} {
		if _, err := reg.Register(owner, big.NewInt(10), grade, Metadata{}); !errors.Is(err, coreerrors.ErrInvalidGrade) {
			t.Fatalf("grade %d: expected invalid grade, got %v", grade, err)
		}
	}
	id := register(t, reg, 1_000)
	rec, err := reg.Record(id)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Status != StatusRegistered || rec.Meta.Batch != "LOT-7" || rec.Meta.QuantityKg != 1_200 {
		t.Fatalf("unexpected record %+v", rec)
	}
	list, _ := reg.ByOwner(owner)
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("owner index not maintained: %+v", list)
	}
}

func TestLockLifecycleAndReverseIndex(t *testing.T) {
	reg, buf, _ := newTestRegistry(t)
	id := register(t, reg, 1_000)
	if err := reg.Lock(id, 42); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := reg.Lock(id, 43); !errors.Is(err, coreerrors.ErrAlreadyLocked) {
		t.Fatalf("expected already locked, got %v", err)
	}
	found, ok, err := reg.CollateralForLoan(42)
	if err != nil || !ok || found != id {
		t.Fatalf("reverse index lookup failed: id=%d ok=%v err=%v", found, ok, err)
	}
	if loan, _ := reg.LoanFor(id); loan != 42 {
		t.Fatalf("expected loan 42, got %d", loan)
	}
	if err := reg.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if loan, _ := reg.LoanFor(id); loan != 0 {
		t.Fatalf("released collateral must not report a loan, got %d", loan)
	}
	if err := reg.Lock(id, 44); !errors.Is(err, coreerrors.ErrAlreadyLocked) {
		t.Fatalf("released collateral cannot be pledged again, got %v", err)
	}
	if buf.Len() != 3 {
		t.Fatalf("expected register, lock and release events, got %d", buf.Len())
	}
}

func TestLiquidationIsTwoPhase(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := register(t, reg, 1_000)
	if err := reg.Liquidate(id); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("unpledged collateral cannot be liquidated, got %v", err)
	}
	if err := reg.Lock(id, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := reg.CompleteLiquidation(id, big.NewInt(10)); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("expected liquidation to start first, got %v", err)
	}
	if err := reg.Liquidate(id); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	recovered, err := reg.CompleteLiquidation(id, big.NewInt(700))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if recovered.Int64() != 700 {
		t.Fatalf("unexpected recovered %s", recovered)
	}
	rec, _ := reg.Record(id)
	if rec.Status != StatusLiquidated || rec.Recovered.Int64() != 700 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRevalueRequiresAuthority(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := register(t, reg, 1_000)
	if err := reg.Revalue(owner, id, big.NewInt(900)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := reg.Revalue(valuer, id, big.NewInt(0)); !errors.Is(err, coreerrors.ErrInvalidValuation) {
		t.Fatalf("expected invalid valuation, got %v", err)
	}
	if err := reg.Revalue(valuer, id, big.NewInt(900)); err != nil {
		t.Fatalf("revalue: %v", err)
	}
	rec, _ := reg.Record(id)
	if rec.DeclaredValue.Int64() != 900 {
		t.Fatalf("expected 900, got %s", rec.DeclaredValue)
	}
	if _, err := reg.Record(99); !errors.Is(err, coreerrors.ErrCollateralNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPausedRegistryRejectsRegistration(t *testing.T) {
	reg, _, p := newTestRegistry(t)
	p.p.Pauses = map[string]bool{params.ModuleCollateral: true}
	if _, err := reg.Register(owner, big.NewInt(10), 10, Metadata{}); !errors.Is(err, coreerrors.ErrModulePaused) {
		t.Fatalf("expected paused module, got %v", err)
	}
}

func TestReservationHoldsLotForOneLoan(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := register(t, reg, 1_000)
	if err := reg.Reserve(id, 7); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := reg.Reserve(id, 8); !errors.Is(err, coreerrors.ErrAlreadyLocked) {
		t.Fatalf("second reservation must fail, got %v", err)
	}
	if err := reg.Lock(id, 8); !errors.Is(err, coreerrors.ErrAlreadyLocked) {
		t.Fatalf("another loan cannot pledge a reserved lot, got %v", err)
	}
	if loan, _ := reg.LoanFor(id); loan != 7 {
		t.Fatalf("expected reservation for loan 7, got %d", loan)
	}
	if err := reg.Unreserve(id, 8); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("only the reserving loan can release, got %v", err)
	}
	if err := reg.Unreserve(id, 7); err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	if _, ok, _ := reg.CollateralForLoan(7); ok {
		t.Fatalf("rejected reservation must not resolve")
	}
	if err := reg.Reserve(id, 8); err != nil {
		t.Fatalf("freed lot should be reservable: %v", err)
	}
	if err := reg.Lock(id, 8); err != nil {
		t.Fatalf("lock reserved lot: %v", err)
	}
	rec, _ := reg.Record(id)
	if rec.Status != StatusLocked || rec.LoanID != 8 {
		t.Fatalf("unexpected record %+v", rec)
	}
	found, ok, err := reg.CollateralForLoan(8)
	if err != nil || !ok || found != id {
		t.Fatalf("reverse index lookup failed: id=%d ok=%v err=%v", found, ok, err)
	}
}

func TestExpireWithdrawsUnpledgedLot(t *testing.T) {
	reg, buf, _ := newTestRegistry(t)
	id := register(t, reg, 1_000)
	if err := reg.Expire(owner, id); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	pledged := register(t, reg, 2_000)
	if err := reg.Lock(pledged, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := reg.Expire(valuer, pledged); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("pledged lot cannot expire, got %v", err)
	}
	before := buf.Len()
	if err := reg.Expire(valuer, id); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if buf.Len() != before+1 {
		t.Fatalf("expected a status event")
	}
	rec, _ := reg.Record(id)
	if rec.Status != StatusExpired || !rec.Status.Terminal() {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := reg.Reserve(id, 9); !errors.Is(err, coreerrors.ErrAlreadyLocked) {
		t.Fatalf("expired lot cannot back a loan, got %v", err)
	}
	if err := reg.Revalue(valuer, id, big.NewInt(5)); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("expired lot cannot be revalued, got %v", err)
	}
	if err := reg.Expire(valuer, id); !errors.Is(err, coreerrors.ErrInvalidCollateral) {
		t.Fatalf("expiry is one-shot, got %v", err)
	}
}
