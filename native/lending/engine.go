package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/types"
	"yieldprotocol/crypto"
	"yieldprotocol/native/collateral"
	nativecommon "yieldprotocol/native/common"
	"yieldprotocol/native/params"
	"yieldprotocol/native/vault"
	"yieldprotocol/native/yield"
)

var (
	errNilState      = errors.New("lending engine: state not configured")
	errNilGovernance = errors.New("lending engine: governance not configured")
)

const secondsPerYear = 365 * 24 * 60 * 60

// storage abstracts the subset of state manager functionality required by the
// lending pool.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	NextSequence(key []byte) (uint64, error)
}

type collateralRegistry interface {
	Record(id uint64) (*collateral.Record, error)
	Reserve(id, loanID uint64) error
	Unreserve(id, loanID uint64) error
	Lock(id, loanID uint64) error
	Release(id uint64) error
	Liquidate(id uint64) error
	CompleteLiquidation(id uint64, recovered *big.Int) (*big.Int, error)
}

type vaultBooks interface {
	Draw(class types.AssetClass, amount *big.Int) error
	Restore(class types.AssetClass, repaid, writtenOff *big.Int) error
}

type distributor interface {
	RecordRealizedYield(source types.AssetClass, gross *big.Int) (*yield.Report, error)
	RecordLoss(source types.AssetClass, loss *big.Int) (*big.Int, error)
}

type assetLedger interface {
	Transfer(from, to [20]byte, asset string, amount *big.Int, reason string) error
}

type paramSource interface {
	Params() (params.ProtocolParams, error)
}

// ProposalSink opens the committee proposal that gates a loan.
type ProposalSink interface {
	SubmitLoanProposal(proposer [20]byte, loanID uint64) (uint64, error)
}

var loanSeqKey = []byte("lending/loan/seq")

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("lending/loan/%d", id))
}

func borrowerIndexKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("lending/borrower/%x", addr))
}

// EscrowAddress holds interest received until the loan closes.
func EscrowAddress() [20]byte { return crypto.ModuleAddress(params.ModuleLending) }

// GovernanceAddress is the only caller allowed to approve, reject or disburse.
func GovernanceAddress() [20]byte { return crypto.ModuleAddress(params.ModuleGovernance) }

// Engine is the lending pool. Loans draw from the stable vault and are gated
// by committee approval.
type Engine struct {
	store      storage
	collateral collateralRegistry
	vaults     vaultBooks
	yield      distributor
	bank       assetLedger
	params     paramSource
	governance ProposalSink
	emitter    events.Emitter
	nowFn      func() time.Time
}

// NewEngine wires the lending pool to its collaborators.
func NewEngine(store storage, registry collateralRegistry, vaults vaultBooks, dist distributor, bank assetLedger, p paramSource) *Engine {
	return &Engine{
		store:      store,
		collateral: registry,
		vaults:     vaults,
		yield:      dist,
		bank:       bank,
		params:     p,
		emitter:    events.NoopEmitter{},
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetGovernance wires the proposal sink.
func (e *Engine) SetGovernance(g ProposalSink) { e.governance = g }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for maturity checks.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn().Unix())
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.collateral == nil || e.vaults == nil || e.yield == nil || e.bank == nil || e.params == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) loadParams() (params.ProtocolParams, error) {
	p, err := e.params.Params()
	if err != nil {
		return params.ProtocolParams{}, err
	}
	if err := nativecommon.Guard(p, params.ModuleLending); err != nil {
		return params.ProtocolParams{}, err
	}
	return p, nil
}

func (e *Engine) load(id uint64) (*Loan, error) {
	var loan Loan
	ok, err := e.store.KVGet(loanKey(id), &loan)
	if err != nil {
		return nil, fmt.Errorf("lending: load loan %d: %w", id, err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrLoanNotFound, "%d", id)
	}
	loan.ensureDefaults()
	return &loan, nil
}

func (e *Engine) put(loan *Loan) error {
	if err := e.store.KVPut(loanKey(loan.ID), loan); err != nil {
		return fmt.Errorf("lending: persist loan %d: %w", loan.ID, err)
	}
	return nil
}

func (e *Engine) setStatus(loan *Loan, status Status) error {
	loan.Status = status
	if err := e.put(loan); err != nil {
		return err
	}
	e.emitter.Emit(events.LoanStatus{LoanID: loan.ID, Status: status.String()})
	return nil
}

func requireStatus(loan *Loan, want Status) error {
	if loan.Status != want {
		return coreerrors.Wrap(coreerrors.ErrInvalidLoanState, "loan %d is %s, need %s", loan.ID, loan.Status, want)
	}
	return nil
}

func requireGovernance(caller [20]byte) error {
	if caller != GovernanceAddress() {
		return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only governance may act on loans")
	}
	return nil
}

// checkCoverage enforces value * 10_000 >= amount * ratioBps.
func checkCoverage(value, amount *big.Int, ratioBps uint64) error {
	lhs := new(big.Int).Mul(nativecommon.Copy(value), nativecommon.BasisPoints)
	rhs := new(big.Int).Mul(nativecommon.Copy(amount), new(big.Int).SetUint64(ratioBps))
	if err := nativecommon.CheckRange(lhs); err != nil {
		return err
	}
	if err := nativecommon.CheckRange(rhs); err != nil {
		return err
	}
	if lhs.Cmp(rhs) < 0 {
		return coreerrors.Wrap(coreerrors.ErrUnderCollateralized, "collateral %s covers less than %d bps of %s", value, ratioBps, amount)
	}
	return nil
}

// ProposeLoan records a loan request and opens its committee proposal. The
// collateral must belong to the borrower and cover the amount at the minimum
// collateral ratio.
func (e *Engine) ProposeLoan(borrower [20]byte, amount *big.Int, collateralID uint64, terms Terms) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if e.governance == nil {
		return 0, 0, errNilGovernance
	}
	if !nativecommon.Positive(amount) {
		return 0, 0, coreerrors.ErrInvalidAmount
	}
	p, err := e.loadParams()
	if err != nil {
		return 0, 0, err
	}
	rec, err := e.collateral.Record(collateralID)
	if err != nil {
		return 0, 0, err
	}
	if rec.Owner != borrower {
		return 0, 0, coreerrors.Wrap(coreerrors.ErrUnauthorized, "collateral %d belongs to another owner", collateralID)
	}
	if rec.Status != collateral.StatusRegistered {
		return 0, 0, coreerrors.Wrap(coreerrors.ErrAlreadyLocked, "collateral %d is %s", collateralID, rec.Status)
	}
	if err := checkCoverage(rec.DeclaredValue, amount, p.MinCollateralRatioBps); err != nil {
		return 0, 0, err
	}
	if terms.InterestBps == 0 {
		terms.InterestBps = p.DefaultLoanInterestBps
	}
	if terms.DurationSecs == 0 {
		terms.DurationSecs = p.DefaultLoanDurationSecs
	}
	if terms.InterestBps > nativecommon.BasisPoints.Uint64() {
		return 0, 0, coreerrors.Wrap(coreerrors.ErrInvalidAmount, "interest %d bps above 100%%", terms.InterestBps)
	}

	id, err := e.store.NextSequence(loanSeqKey)
	if err != nil {
		return 0, 0, err
	}
	loan := &Loan{
		ID:           id,
		Borrower:     borrower,
		Principal:    new(big.Int).Set(amount),
		Outstanding:  big.NewInt(0),
		InterestBps:  terms.InterestBps,
		DurationSecs: terms.DurationSecs,
		CollateralID: collateralID,
		Status:       StatusProposed,
		CreatedAt:    e.now(),
	}
	if err := e.put(loan); err != nil {
		return 0, 0, err
	}
	if _, err := e.store.ListAppend(borrowerIndexKey(borrower), id); err != nil {
		return 0, 0, err
	}
	if err := e.collateral.Reserve(collateralID, id); err != nil {
		return 0, 0, err
	}
	proposalID, err := e.governance.SubmitLoanProposal(borrower, id)
	if err != nil {
		return 0, 0, err
	}
	loan.ProposalID = proposalID
	if err := e.put(loan); err != nil {
		return 0, 0, err
	}
	e.emitter.Emit(events.LoanProposed{
		LoanID:       id,
		ProposalID:   proposalID,
		Borrower:     borrower,
		Amount:       new(big.Int).Set(amount),
		CollateralID: collateralID,
		InterestBps:  terms.InterestBps,
		DurationSecs: terms.DurationSecs,
	})
	return id, proposalID, nil
}

// ApproveLoan pledges the collateral once the committee has passed the loan.
func (e *Engine) ApproveLoan(caller [20]byte, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireGovernance(caller); err != nil {
		return err
	}
	p, err := e.loadParams()
	if err != nil {
		return err
	}
	loan, err := e.load(loanID)
	if err != nil {
		return err
	}
	if err := requireStatus(loan, StatusProposed); err != nil {
		return err
	}
	rec, err := e.collateral.Record(loan.CollateralID)
	if err != nil {
		return err
	}
	if err := checkCoverage(rec.DeclaredValue, loan.Principal, p.MinCollateralRatioBps); err != nil {
		return err
	}
	if err := e.collateral.Lock(loan.CollateralID, loan.ID); err != nil {
		return err
	}
	return e.setStatus(loan, StatusApproved)
}

// RejectLoan closes a proposed loan and frees its reserved collateral.
func (e *Engine) RejectLoan(caller [20]byte, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireGovernance(caller); err != nil {
		return err
	}
	loan, err := e.load(loanID)
	if err != nil {
		return err
	}
	if err := requireStatus(loan, StatusProposed); err != nil {
		return err
	}
	if err := e.collateral.Unreserve(loan.CollateralID, loan.ID); err != nil {
		return err
	}
	loan.ClosedAt = e.now()
	return e.setStatus(loan, StatusRejected)
}

// Disburse draws the principal from the stable vault and pays the borrower.
// Interest for the full term is fixed here.
func (e *Engine) Disburse(caller [20]byte, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireGovernance(caller); err != nil {
		return err
	}
	p, err := e.loadParams()
	if err != nil {
		return err
	}
	loan, err := e.load(loanID)
	if err != nil {
		return err
	}
	if err := requireStatus(loan, StatusApproved); err != nil {
		return err
	}
	rec, err := e.collateral.Record(loan.CollateralID)
	if err != nil {
		return err
	}
	if err := checkCoverage(rec.DeclaredValue, loan.Principal, p.MinCollateralRatioBps); err != nil {
		return err
	}
	if err := e.vaults.Draw(types.AssetClassStable, loan.Principal); err != nil {
		return err
	}
	custody := vault.CustodyAddress(types.AssetClassStable)
	if err := e.bank.Transfer(custody, loan.Borrower, p.StableAsset, loan.Principal, "lending.disburse"); err != nil {
		if errors.Is(err, coreerrors.ErrInsufficientBalance) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientLiquidity, "stable custody short: %v", err)
		}
		return err
	}
	interest, err := simpleInterest(loan.Principal, loan.InterestBps, loan.DurationSecs)
	if err != nil {
		return err
	}
	now := e.now()
	loan.Outstanding = new(big.Int).Set(loan.Principal)
	loan.InterestDue = interest
	loan.DisbursedAt = now
	loan.Maturity = now + loan.DurationSecs
	return e.setStatus(loan, StatusActive)
}

// simpleInterest returns principal * bps * duration / (10_000 * year).
func simpleInterest(principal *big.Int, bps, durationSecs uint64) (*big.Int, error) {
	annual, err := nativecommon.BpsOf(principal, bps)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(annual, new(big.Int).SetUint64(durationSecs), big.NewInt(secondsPerYear))
}

// Repay applies amount to principal first, then to interest. Principal goes
// straight back to vault liquidity; interest is escrowed and forwarded to the
// distributor once the loan is fully repaid, which also releases the
// collateral. Overpayment is not taken.
func (e *Engine) Repay(payer [20]byte, loanID uint64, amount *big.Int) (*RepaymentResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amount) {
		return nil, coreerrors.ErrInvalidAmount
	}
	p, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	loan, err := e.load(loanID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(loan, StatusActive); err != nil {
		return nil, err
	}
	applied := nativecommon.Min(amount, loan.Balance())
	toPrincipal := nativecommon.Min(applied, loan.Outstanding)
	toInterest := new(big.Int).Sub(applied, toPrincipal)

	custody := vault.CustodyAddress(types.AssetClassStable)
	if toPrincipal.Sign() > 0 {
		if err := e.bank.Transfer(payer, custody, p.StableAsset, toPrincipal, "lending.repay"); err != nil {
			return nil, err
		}
		if err := e.vaults.Restore(types.AssetClassStable, toPrincipal, nil); err != nil {
			return nil, err
		}
		loan.Outstanding.Sub(loan.Outstanding, toPrincipal)
	}
	if toInterest.Sign() > 0 {
		if err := e.bank.Transfer(payer, EscrowAddress(), p.StableAsset, toInterest, "lending.interest"); err != nil {
			return nil, err
		}
		loan.InterestPaid.Add(loan.InterestPaid, toInterest)
	}
	result := &RepaymentResult{Principal: toPrincipal, Interest: toInterest, Outstanding: loan.Balance()}
	if result.Outstanding.Sign() == 0 {
		if err := e.forwardInterest(p, loan.InterestPaid); err != nil {
			return nil, err
		}
		if err := e.collateral.Release(loan.CollateralID); err != nil {
			return nil, err
		}
		loan.ClosedAt = e.now()
		loan.Status = StatusRepaid
		result.Closed = true
	}
	if err := e.put(loan); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LoanRepayment{
		LoanID:      loan.ID,
		Payer:       payer,
		Principal:   new(big.Int).Set(toPrincipal),
		Interest:    new(big.Int).Set(toInterest),
		Outstanding: new(big.Int).Set(result.Outstanding),
	})
	if result.Closed {
		e.emitter.Emit(events.LoanStatus{LoanID: loan.ID, Status: StatusRepaid.String()})
	}
	return result, nil
}

// forwardInterest moves escrowed interest into stable custody and books it as
// realized yield.
func (e *Engine) forwardInterest(p params.ProtocolParams, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return nil
	}
	custody := vault.CustodyAddress(types.AssetClassStable)
	if err := e.bank.Transfer(EscrowAddress(), custody, p.StableAsset, amount, "lending.yield"); err != nil {
		return err
	}
	_, err := e.yield.RecordRealizedYield(types.AssetClassStable, amount)
	return err
}

// CheckDefault marks an active loan defaulted when it is past maturity plus
// the grace period with a balance, or when the collateral no longer covers the
// outstanding principal at the liquidation ratio. The collateral moves to
// liquidation. Already defaulted loans report true without change.
func (e *Engine) CheckDefault(loanID uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	p, err := e.params.Params()
	if err != nil {
		return false, err
	}
	loan, err := e.load(loanID)
	if err != nil {
		return false, err
	}
	switch loan.Status {
	case StatusDefaulted:
		return true, nil
	case StatusActive:
	default:
		return false, nil
	}
	overdue := e.now() > loan.Maturity+p.LoanGracePeriodSecs && loan.Balance().Sign() > 0
	undercovered := false
	if !overdue && loan.Outstanding.Sign() > 0 {
		rec, err := e.collateral.Record(loan.CollateralID)
		if err != nil {
			return false, err
		}
		err = checkCoverage(rec.DeclaredValue, loan.Outstanding, p.LiquidationRatioBps)
		switch {
		case errors.Is(err, coreerrors.ErrUnderCollateralized):
			undercovered = true
		case err != nil:
			return false, err
		}
	}
	if !overdue && !undercovered {
		return false, nil
	}
	if err := e.collateral.Liquidate(loan.CollateralID); err != nil {
		return false, err
	}
	if err := e.setStatus(loan, StatusDefaulted); err != nil {
		return false, err
	}
	return true, nil
}

// SettleLiquidation ingests stable proceeds from the liquidator for a
// defaulted loan. Proceeds repay principal first; any shortfall is socialized
// as a loss, any surplus covers unpaid interest as yield and the rest returns
// to the borrower.
func (e *Engine) SettleLiquidation(caller [20]byte, loanID uint64, recovered *big.Int) (*LiquidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	recovered = nativecommon.Copy(recovered)
	if recovered.Sign() < 0 {
		return nil, coreerrors.ErrInvalidAmount
	}
	p, err := e.params.Params()
	if err != nil {
		return nil, err
	}
	liquidator, ok, err := params.Authority(p.LiquidatorAuthority)
	if err != nil {
		return nil, err
	}
	if !ok || caller != liquidator {
		return nil, coreerrors.Wrap(coreerrors.ErrUnauthorized, "settlement requires the liquidator authority")
	}
	loan, err := e.load(loanID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(loan, StatusDefaulted); err != nil {
		return nil, err
	}
	custody := vault.CustodyAddress(types.AssetClassStable)
	if recovered.Sign() > 0 {
		if err := e.bank.Transfer(caller, custody, p.StableAsset, recovered, "lending.liquidation"); err != nil {
			return nil, err
		}
	}
	if _, err := e.collateral.CompleteLiquidation(loan.CollateralID, recovered); err != nil {
		return nil, err
	}

	toPrincipal := nativecommon.Min(recovered, loan.Outstanding)
	loss := new(big.Int).Sub(loan.Outstanding, toPrincipal)
	surplus := new(big.Int).Sub(recovered, toPrincipal)
	interestCovered := nativecommon.Min(surplus, loan.InterestOwed())
	refund := new(big.Int).Sub(surplus, interestCovered)

	if err := e.vaults.Restore(types.AssetClassStable, toPrincipal, loss); err != nil {
		return nil, err
	}
	if loss.Sign() > 0 {
		if _, err := e.yield.RecordLoss(types.AssetClassStable, loss); err != nil {
			return nil, err
		}
	}
	if loan.InterestPaid.Sign() > 0 {
		if err := e.bank.Transfer(EscrowAddress(), custody, p.StableAsset, loan.InterestPaid, "lending.yield"); err != nil {
			return nil, err
		}
	}
	yieldAmount := new(big.Int).Add(loan.InterestPaid, interestCovered)
	if yieldAmount.Sign() > 0 {
		if _, err := e.yield.RecordRealizedYield(types.AssetClassStable, yieldAmount); err != nil {
			return nil, err
		}
	}
	if refund.Sign() > 0 {
		if err := e.bank.Transfer(custody, loan.Borrower, p.StableAsset, refund, "lending.surplus"); err != nil {
			return nil, err
		}
	}

	loan.InterestPaid.Add(loan.InterestPaid, interestCovered)
	loan.Outstanding = big.NewInt(0)
	loan.Recovered = new(big.Int).Set(recovered)
	loan.ClosedAt = e.now()
	if err := e.setStatus(loan, StatusLiquidated); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LoanLiquidated{
		LoanID:    loan.ID,
		Recovered: new(big.Int).Set(recovered),
		Loss:      new(big.Int).Set(loss),
		Surplus:   new(big.Int).Set(refund),
	})
	return &LiquidationResult{Recovered: recovered, Loss: loss, Yield: yieldAmount, Surplus: refund}, nil
}

// Loan returns a copy of the stored loan.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.load(id)
}

// LoansOf lists every loan requested by borrower.
func (e *Engine) LoansOf(borrower [20]byte) ([]*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := nativecommon.IDs(e.store, borrowerIndexKey(borrower))
	if err != nil {
		return nil, err
	}
	out := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := e.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}
