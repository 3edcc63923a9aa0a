package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/genesis"
	"yieldprotocol/core/state"
	"yieldprotocol/core/types"
	"yieldprotocol/native/bank"
	"yieldprotocol/native/collateral"
	"yieldprotocol/native/governance"
	"yieldprotocol/native/lending"
	"yieldprotocol/native/oracle"
	"yieldprotocol/native/params"
	"yieldprotocol/native/token"
	"yieldprotocol/native/vault"
	"yieldprotocol/native/yield"
	"yieldprotocol/observability"
	"yieldprotocol/storage"
)

// ErrAlreadyInitialised is returned when genesis is applied twice.
var ErrAlreadyInitialised = errors.New("ledger: genesis already applied")

// Receipt describes one committed ledger call and the events it produced.
type Receipt struct {
	TxID      string
	Op        string
	Height    uint64
	Timestamp time.Time
	Events    []*types.Event
}

// Subscriber receives a receipt after every committed call. Subscribers run
// outside the ledger lock and must not call back into mutating operations.
type Subscriber func(Receipt)

// Option customises a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the wall clock used to stamp calls.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithOracle replaces the manual price feed.
func WithOracle(source oracle.PriceOracle) Option {
	return func(l *Ledger) {
		if source != nil {
			l.source = source
		}
	}
}

// Ledger hosts every protocol engine over one state manager and executes each
// public operation as an all-or-nothing call: state writes and events are
// either committed together or discarded together.
type Ledger struct {
	mu sync.Mutex

	db       storage.Database
	state    *state.Manager
	params   *params.Store
	prices   *oracle.ManualOracle
	source   oracle.PriceOracle
	guard    *oracle.Guard
	bank     *bank.Ledger
	tokens   *token.Engine
	vaults   *vault.Engine
	yield    *yield.Engine
	registry *collateral.Registry
	lending  *lending.Engine
	gov      *governance.Engine

	buffer  *events.Buffer
	subsMu  sync.RWMutex
	subs    []Subscriber
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.LedgerMetrics

	nowFn   func() time.Time
	current time.Time
}

// NewLedger wires the protocol engines over db.
func NewLedger(db storage.Database, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database must not be nil")
	}
	l := &Ledger{
		db:      db,
		state:   state.NewManager(db),
		prices:  oracle.NewManualOracle(),
		buffer:  &events.Buffer{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("yieldprotocol/core"),
		metrics: observability.Ledger(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	l.source = l.prices
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))

	l.params = params.NewStore(l.state)
	l.guard = oracle.NewGuard(l.source, time.Hour)
	l.guard.SetNowFunc(l.clock)
	l.bank = bank.NewLedger(l.state)
	l.tokens = token.NewEngine(l.state)
	l.tokens.SetHeightFunc(l.height)
	l.vaults = vault.NewEngine(l.state, l.tokens, l.bank, l.guard, l.params)
	l.yield = yield.NewEngine(l.state, l.tokens, l.vaults, l.bank, l.guard, l.params)
	l.vaults.SetPenaltySink(l.yield)
	l.registry = collateral.NewRegistry(l.state, l.params)
	l.lending = lending.NewEngine(l.state, l.registry, l.vaults, l.yield, l.bank, l.params)
	l.gov = governance.NewEngine(l.state, l.params, l.tokens)
	l.lending.SetGovernance(l.gov)
	l.gov.SetLoans(l.lending)

	l.bank.SetEmitter(l.buffer)
	l.tokens.SetEmitter(l.buffer)
	for _, engine := range []interface {
		SetEmitter(events.Emitter)
		SetNowFunc(func() time.Time)
	}{l.vaults, l.yield, l.registry, l.lending, l.gov} {
		engine.SetEmitter(l.buffer)
		engine.SetNowFunc(l.clock)
	}
	return l, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() {
	if l == nil || l.db == nil {
		return
	}
	l.db.Close()
}

// Subscribe registers fn for every future receipt.
func (l *Ledger) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	l.subsMu.Lock()
	l.subs = append(l.subs, fn)
	l.subsMu.Unlock()
}

// clock returns the timestamp of the call in progress, or the wall clock
// outside a call.
func (l *Ledger) clock() time.Time {
	if !l.current.IsZero() {
		return l.current
	}
	return l.nowFn().UTC()
}

func (l *Ledger) height() uint64 {
	h, err := l.state.Height()
	if err != nil {
		return 0
	}
	return h
}

// callTime stamps the call. The ledger clock never runs backwards relative
// to the last committed call.
func (l *Ledger) callTime() (time.Time, error) {
	now := l.nowFn().UTC().Truncate(time.Second)
	last, err := l.state.LastTime()
	if err != nil {
		return time.Time{}, err
	}
	if floor := time.Unix(int64(last), 0).UTC(); now.Before(floor) {
		return floor, nil
	}
	return now, nil
}

// syncOracle applies the governed staleness bound to the price guard.
func (l *Ledger) syncOracle() error {
	p, err := l.params.Params()
	if errors.Is(err, params.ErrNotInitialised) {
		return nil
	}
	if err != nil {
		return err
	}
	l.guard.SetMaxAge(time.Duration(p.OracleMaxAgeSecs) * time.Second)
	return nil
}

func (l *Ledger) execute(ctx context.Context, op string, fn func() error) error {
	receipt, err := l.apply(ctx, op, fn)
	if err != nil {
		return err
	}
	l.publish(receipt)
	return nil
}

func (l *Ledger) apply(ctx context.Context, op string, fn func() error) (Receipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	txID := uuid.NewString()
	_, span := l.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tx.id", txID),
		attribute.String("ledger.op", op),
	))
	defer span.End()

	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	receipt := Receipt{TxID: txID, Op: op}
	err := ctx.Err()
	if err == nil {
		err = l.run(&receipt, fn)
	}
	kind := coreerrors.KindOf(err)
	l.metrics.ObserveCall(op, kind.String(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logRejected(op, txID, kind, err)
		return Receipt{}, err
	}
	span.SetAttributes(attribute.Int64("ledger.height", int64(receipt.Height)))
	l.observeCommitted(receipt)
	l.logger.Debug("ledger call committed",
		slog.String("op", op),
		slog.String("tx_id", txID),
		slog.Uint64("height", receipt.Height),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

// run executes fn inside a snapshot. Any failure, including a failed commit,
// restores the snapshot and drops the buffered events.
func (l *Ledger) run(receipt *Receipt, fn func() error) error {
	snapshot := l.state.Snapshot()
	l.buffer.Discard()
	rollback := func(err error) error {
		l.state.RevertToSnapshot(snapshot)
		l.buffer.Discard()
		l.current = time.Time{}
		return err
	}
	now, err := l.callTime()
	if err != nil {
		return rollback(err)
	}
	l.current = now
	height, err := l.state.AdvanceHeight()
	if err != nil {
		return rollback(err)
	}
	if err := l.state.SetLastTime(uint64(now.Unix())); err != nil {
		return rollback(err)
	}
	if err := l.syncOracle(); err != nil {
		return rollback(err)
	}
	if err := fn(); err != nil {
		return rollback(err)
	}
	if err := l.state.Commit(); err != nil {
		return rollback(fmt.Errorf("ledger: commit: %w", err))
	}
	l.current = time.Time{}
	emitted := l.buffer.Drain()
	receipt.Height = height
	receipt.Timestamp = now
	receipt.Events = make([]*types.Event, 0, len(emitted))
	for _, evt := range emitted {
		if rendered := events.Render(evt); rendered != nil {
			receipt.Events = append(receipt.Events, rendered)
		}
	}
	return nil
}

func (l *Ledger) logRejected(op, txID string, kind coreerrors.Kind, err error) {
	attrs := []any{
		slog.String("op", op),
		slog.String("tx_id", txID),
		slog.String("kind", kind.String()),
		slog.String("code", coreerrors.CodeOf(err)),
		slog.String("error", err.Error()),
	}
	if kind == coreerrors.KindAuthorization {
		l.logger.Warn("unauthorized ledger call", append(attrs, slog.Bool("security", true))...)
		return
	}
	l.logger.Info("ledger call rejected", attrs...)
}

func (l *Ledger) observeCommitted(receipt Receipt) {
	l.metrics.SetHeight(receipt.Height)
	observability.Events().RecordCommitted(receipt.Op, receipt.Events)
	if rate, err := l.tokens.ExchangeRateRay(); err == nil {
		l.metrics.SetExchangeRate(rate)
	}
	if supply, err := l.tokens.Supply(); err == nil {
		l.metrics.SetBacking(supply.TotalBacking)
	}
	if books, err := l.vaults.Books(); err == nil {
		for _, book := range books {
			l.metrics.SetReserve(book.Class.String(), book.Reserve)
		}
	}
}

func (l *Ledger) publish(receipt Receipt) {
	l.subsMu.RLock()
	subs := append([]Subscriber(nil), l.subs...)
	l.subsMu.RUnlock()
	for _, fn := range subs {
		fn(receipt.clone())
	}
}

// clone detaches the event list so one subscriber cannot mutate what the
// next one sees.
func (r Receipt) clone() Receipt {
	out := r
	out.Events = make([]*types.Event, len(r.Events))
	for i, evt := range r.Events {
		out.Events[i] = evt.Clone()
	}
	return out
}

func call[T any](ctx context.Context, l *Ledger, op string, fn func() (T, error)) (T, error) {
	var out T
	err := l.execute(ctx, op, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// InitGenesis writes the genesis parameter set, credits the allocations and
// seeds the manual oracle.
func (l *Ledger) InitGenesis(ctx context.Context, spec *genesis.GenesisSpec) error {
	if spec == nil {
		return fmt.Errorf("ledger: genesis spec must not be nil")
	}
	return l.execute(ctx, "genesis.init", func() error {
		if _, err := l.params.Params(); err == nil {
			return ErrAlreadyInitialised
		} else if !errors.Is(err, params.ErrNotInitialised) {
			return err
		}
		if err := l.params.Initialise(spec.ProtocolParams()); err != nil {
			return err
		}
		if err := l.syncOracle(); err != nil {
			return err
		}
		for _, alloc := range spec.Allocations() {
			if err := l.bank.Issue(alloc.Account, alloc.Asset, alloc.Amount); err != nil {
				return fmt.Errorf("genesis alloc %s: %w", alloc.Asset, err)
			}
		}
		for _, price := range spec.SeedPrices() {
			if err := l.prices.SetDecimal(price.Asset, oracle.QuoteUSD, price.Rate, l.clock()); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPrice feeds a USD quote into the manual oracle. Quotes are external
// inputs and are not part of ledger state.
func (l *Ledger) SetPrice(asset, rate string) error {
	if err := l.prices.SetDecimal(asset, oracle.QuoteUSD, rate, l.nowFn().UTC()); err != nil {
		return coreerrors.Wrap(coreerrors.ErrInvalidValuation, "%v", err)
	}
	l.logger.Info("oracle price updated", slog.String("asset", params.NormalizeAsset(asset)), slog.String("rate", rate))
	return nil
}

// IssueAsset credits bridged units of an accepted asset. Only the treasury
// authority may bridge.
func (l *Ledger) IssueAsset(ctx context.Context, caller, to [20]byte, asset string, amount *big.Int) error {
	return l.execute(ctx, "bank.issue", func() error {
		p, err := l.params.Params()
		if err != nil {
			return err
		}
		treasury, ok, err := params.Authority(p.TreasuryAuthority)
		if err != nil {
			return err
		}
		if !ok || caller != treasury {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "bridging requires the treasury authority")
		}
		if _, err := vault.ClassOf(p, asset); err != nil {
			return err
		}
		return l.bank.Issue(to, asset, amount)
	})
}

// Deposit locks an asset into its vault and mints shares to owner.
func (l *Ledger) Deposit(ctx context.Context, owner [20]byte, asset string, amount *big.Int, lock types.LockPeriod) (uint64, error) {
	return call(ctx, l, "vault.deposit", func() (uint64, error) {
		return l.vaults.Deposit(owner, asset, amount, lock)
	})
}

// Withdraw closes an unlocked position.
func (l *Ledger) Withdraw(ctx context.Context, caller [20]byte, positionID uint64) (*big.Int, error) {
	return call(ctx, l, "vault.withdraw", func() (*big.Int, error) {
		return l.vaults.Withdraw(caller, positionID)
	})
}

// EmergencyWithdraw closes a position before its lock expires.
func (l *Ledger) EmergencyWithdraw(ctx context.Context, caller [20]byte, positionID uint64) (*big.Int, error) {
	return call(ctx, l, "vault.emergency_withdraw", func() (*big.Int, error) {
		return l.vaults.EmergencyWithdraw(caller, positionID)
	})
}

// TransferPosition hands a whole active position to another account.
func (l *Ledger) TransferPosition(ctx context.Context, caller [20]byte, positionID uint64, to [20]byte) error {
	return l.execute(ctx, "vault.transfer", func() error {
		return l.vaults.TransferPosition(caller, positionID, to)
	})
}

// DepositYield accepts externally earned stable yield and distributes it.
func (l *Ledger) DepositYield(ctx context.Context, from [20]byte, gross *big.Int) (*yield.Report, error) {
	return call(ctx, l, "yield.deposit", func() (*yield.Report, error) {
		return l.yield.DepositYield(from, gross)
	})
}

// SettleRebalance records the treasury moving custody for an open order.
func (l *Ledger) SettleRebalance(ctx context.Context, caller [20]byte, orderID uint64, releaseAsset, deliverAsset string) (*yield.RebalanceOrder, error) {
	return call(ctx, l, "yield.settle_rebalance", func() (*yield.RebalanceOrder, error) {
		return l.yield.SettleRebalance(caller, orderID, releaseAsset, deliverAsset)
	})
}

// RegisterCollateral records a tokenized commodity lot.
func (l *Ledger) RegisterCollateral(ctx context.Context, owner [20]byte, declaredValue *big.Int, grade uint64, meta collateral.Metadata) (uint64, error) {
	return call(ctx, l, "collateral.register", func() (uint64, error) {
		return l.registry.Register(owner, declaredValue, grade, meta)
	})
}

// RevalueCollateral updates a record's declared value.
func (l *Ledger) RevalueCollateral(ctx context.Context, caller [20]byte, id uint64, value *big.Int) error {
	return l.execute(ctx, "collateral.revalue", func() error {
		return l.registry.Revalue(caller, id, value)
	})
}

// ExpireCollateral withdraws an unpledged lot.
func (l *Ledger) ExpireCollateral(ctx context.Context, caller [20]byte, id uint64) error {
	return l.execute(ctx, "collateral.expire", func() error {
		return l.registry.Expire(caller, id)
	})
}

// ProposeLoan drafts a loan and opens its committee proposal.
func (l *Ledger) ProposeLoan(ctx context.Context, borrower [20]byte, amount *big.Int, collateralID uint64, terms lending.Terms) (uint64, uint64, error) {
	type ids struct{ loan, proposal uint64 }
	out, err := call(ctx, l, "lending.propose", func() (ids, error) {
		loanID, proposalID, err := l.lending.ProposeLoan(borrower, amount, collateralID, terms)
		return ids{loanID, proposalID}, err
	})
	return out.loan, out.proposal, err
}

// Repay applies a repayment to an active loan.
func (l *Ledger) Repay(ctx context.Context, payer [20]byte, loanID uint64, amount *big.Int) (*lending.RepaymentResult, error) {
	return call(ctx, l, "lending.repay", func() (*lending.RepaymentResult, error) {
		return l.lending.Repay(payer, loanID, amount)
	})
}

// CheckDefault marks an overdue or under-covered loan as defaulted.
func (l *Ledger) CheckDefault(ctx context.Context, loanID uint64) (bool, error) {
	return call(ctx, l, "lending.check_default", func() (bool, error) {
		return l.lending.CheckDefault(loanID)
	})
}

// SettleLiquidation books the proceeds of a collateral disposal.
func (l *Ledger) SettleLiquidation(ctx context.Context, caller [20]byte, loanID uint64, recovered *big.Int) (*lending.LiquidationResult, error) {
	return call(ctx, l, "lending.settle_liquidation", func() (*lending.LiquidationResult, error) {
		return l.lending.SettleLiquidation(caller, loanID, recovered)
	})
}

// CommitteeVote records a committee member's ballot on a loan or trade
// proposal.
func (l *Ledger) CommitteeVote(ctx context.Context, proposalID uint64, member [20]byte, approve bool) (governance.ProposalStatus, error) {
	return call(ctx, l, "gov.committee_vote", func() (governance.ProposalStatus, error) {
		return l.gov.CastCommitteeVote(proposalID, member, approve)
	})
}

// ProposeTrade opens a committee proposal for a treasury trade.
func (l *Ledger) ProposeTrade(ctx context.Context, proposer [20]byte, order governance.TradeOrder) (uint64, error) {
	return call(ctx, l, "gov.propose_trade", func() (uint64, error) {
		return l.gov.SubmitTradeProposal(proposer, order)
	})
}

// ProposeParamChange opens a token-weighted parameter proposal.
func (l *Ledger) ProposeParamChange(ctx context.Context, proposer [20]byte, delta []byte) (uint64, error) {
	return call(ctx, l, "gov.propose_params", func() (uint64, error) {
		return l.gov.ProposeParamChange(proposer, delta)
	})
}

// Vote records a token-weighted ballot.
func (l *Ledger) Vote(ctx context.Context, proposalID uint64, voter [20]byte, choice string) (governance.ProposalStatus, error) {
	return call(ctx, l, "gov.vote", func() (governance.ProposalStatus, error) {
		return l.gov.CastVote(proposalID, voter, choice)
	})
}

// ExpireProposal closes a proposal whose voting window has elapsed.
func (l *Ledger) ExpireProposal(ctx context.Context, proposalID uint64) (governance.ProposalStatus, error) {
	return call(ctx, l, "gov.expire", func() (governance.ProposalStatus, error) {
		return l.gov.Expire(proposalID)
	})
}

// ExecuteProposal applies a passed proposal's side effect.
func (l *Ledger) ExecuteProposal(ctx context.Context, proposalID uint64) error {
	return l.execute(ctx, "gov.execute", func() error {
		return l.gov.Execute(proposalID)
	})
}

func view[T any](l *Ledger, fn func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// Height returns the number of committed calls.
func (l *Ledger) Height() (uint64, error) {
	return view(l, l.state.Height)
}

// Params returns the active parameter set.
func (l *Ledger) Params() (params.ProtocolParams, error) {
	return view(l, l.params.Params)
}

// Supply returns the token totals.
func (l *Ledger) Supply() (token.Supply, error) {
	return view(l, l.tokens.Supply)
}

// ExchangeRateRay returns the share rate in ray precision.
func (l *Ledger) ExchangeRateRay() (*big.Int, error) {
	return view(l, l.tokens.ExchangeRateRay)
}

// BalanceOfUSD returns a holder's dollar balance.
func (l *Ledger) BalanceOfUSD(addr [20]byte) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.tokens.BalanceOfUSD(addr) })
}

// Holders pages through token holders in first-seen order.
func (l *Ledger) Holders(start, limit uint64) ([][20]byte, uint64, error) {
	type page struct {
		holders [][20]byte
		total   uint64
	}
	out, err := view(l, func() (page, error) {
		holders, total, err := l.tokens.Holders(start, limit)
		return page{holders, total}, err
	})
	return out.holders, out.total, err
}

// Holding returns a holder's raw share balance.
func (l *Ledger) Holding(addr [20]byte) (token.Holding, error) {
	return view(l, func() (token.Holding, error) { return l.tokens.Holding(addr) })
}

// AssetBalance returns an account's balance of an underlying asset.
func (l *Ledger) AssetBalance(addr [20]byte, asset string) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.bank.Balance(addr, asset) })
}

// Position returns a deposit position.
func (l *Ledger) Position(id uint64) (*vault.Position, error) {
	return view(l, func() (*vault.Position, error) { return l.vaults.Position(id) })
}

// Positions lists an owner's positions.
func (l *Ledger) Positions(owner [20]byte) ([]*vault.Position, error) {
	return view(l, func() ([]*vault.Position, error) { return l.vaults.Positions(owner) })
}

// PositionValue returns a position's current dollar value.
func (l *Ledger) PositionValue(id uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.vaults.PositionValue(id) })
}

// Books returns every vault book.
func (l *Ledger) Books() ([]*vault.Book, error) {
	return view(l, l.vaults.Books)
}

// Collateral returns a collateral record.
func (l *Ledger) Collateral(id uint64) (*collateral.Record, error) {
	return view(l, func() (*collateral.Record, error) { return l.registry.Record(id) })
}

// CollateralOf lists the lots an owner registered.
func (l *Ledger) CollateralOf(owner [20]byte) ([]*collateral.Record, error) {
	return view(l, func() ([]*collateral.Record, error) { return l.registry.ByOwner(owner) })
}

// LoanCollateral returns the lot reserved or pledged for a loan.
func (l *Ledger) LoanCollateral(loanID uint64) (*collateral.Record, error) {
	return view(l, func() (*collateral.Record, error) {
		if _, err := l.lending.Loan(loanID); err != nil {
			return nil, err
		}
		id, ok, err := l.registry.CollateralForLoan(loanID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, coreerrors.Wrap(coreerrors.ErrCollateralNotFound, "loan %d holds no collateral", loanID)
		}
		return l.registry.Record(id)
	})
}

// Loan returns a loan.
func (l *Ledger) Loan(id uint64) (*lending.Loan, error) {
	return view(l, func() (*lending.Loan, error) { return l.lending.Loan(id) })
}

// LoansOf lists a borrower's loans.
func (l *Ledger) LoansOf(borrower [20]byte) ([]*lending.Loan, error) {
	return view(l, func() ([]*lending.Loan, error) { return l.lending.LoansOf(borrower) })
}

// Proposal returns a governance proposal.
func (l *Ledger) Proposal(id uint64) (*governance.Proposal, error) {
	return view(l, func() (*governance.Proposal, error) { return l.gov.Proposal(id) })
}

// Proposals lists every proposal.
func (l *Ledger) Proposals() ([]*governance.Proposal, error) {
	return view(l, l.gov.Proposals)
}

// Tally summarises a proposal's ballots.
func (l *Ledger) Tally(id uint64) (*governance.Tally, error) {
	return view(l, func() (*governance.Tally, error) { return l.gov.Tally(id) })
}

// YieldTotals returns the cumulative distribution totals.
func (l *Ledger) YieldTotals() (*yield.Totals, error) {
	return view(l, l.yield.Totals)
}

// YieldReports pages through distribution reports.
func (l *Ledger) YieldReports(start, limit uint64) ([]*yield.Report, uint64, error) {
	type page struct {
		reports []*yield.Report
		total   uint64
	}
	out, err := view(l, func() (page, error) {
		reports, total, err := l.yield.Reports(start, limit)
		return page{reports, total}, err
	})
	return out.reports, out.total, err
}

// YieldReport returns one distribution report.
func (l *Ledger) YieldReport(id uint64) (*yield.Report, error) {
	return view(l, func() (*yield.Report, error) { return l.yield.Report(id) })
}

// RebalanceOrder returns one rebalance order in any state.
func (l *Ledger) RebalanceOrder(id uint64) (*yield.RebalanceOrder, error) {
	return view(l, func() (*yield.RebalanceOrder, error) { return l.yield.Order(id) })
}

// OpenOrders lists unsettled rebalance orders.
func (l *Ledger) OpenOrders() ([]*yield.RebalanceOrder, error) {
	return view(l, l.yield.OpenOrders)
}
