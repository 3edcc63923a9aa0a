package yield

import (
	"errors"
	"math/big"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/types"
	nativecommon "yieldprotocol/native/common"
	"yieldprotocol/native/params"
	"yieldprotocol/native/token"
	"yieldprotocol/native/vault"
)

var errNilState = errors.New("yield engine: state not configured")

// Reason strings attached to distribution events.
const (
	ReasonRealized = "realized"
	ReasonDeposit  = "deposit"
	ReasonPenalty  = "emergency_penalty"
)

type tokenLedger interface {
	Supply() (token.Supply, error)
	ApplyYield(delta *big.Int, isLoss bool) (*big.Int, error)
}

type vaultBooks interface {
	Book(class types.AssetClass) (*vault.Book, error)
	Credit(class types.AssetClass, amount *big.Int) error
	Debit(class types.AssetClass, amount *big.Int, floor bool) (*big.Int, error)
	AddReserve(class types.AssetClass, amount *big.Int) error
}

type assetLedger interface {
	Transfer(from, to [20]byte, asset string, amount *big.Int, reason string) error
}

type priceSource interface {
	PriceUSD(asset string) (*big.Int, error)
}

type paramSource interface {
	Params() (params.ProtocolParams, error)
}

// Engine splits realized yield between the protocol fee reserve and token
// holders, socializes losses and keeps vault books aligned with the share
// each vault's depositors own.
type Engine struct {
	store   storage
	token   tokenLedger
	vaults  vaultBooks
	bank    assetLedger
	prices  priceSource
	params  paramSource
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine wires the distributor to its collaborators.
func NewEngine(store storage, tokens tokenLedger, vaults vaultBooks, bank assetLedger, prices priceSource, p paramSource) *Engine {
	return &Engine{
		store:   store,
		token:   tokens,
		vaults:  vaults,
		bank:    bank,
		prices:  prices,
		params:  p,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used to stamp reports.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.token == nil || e.vaults == nil || e.params == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) loadParams() (params.ProtocolParams, error) {
	p, err := e.params.Params()
	if err != nil {
		return params.ProtocolParams{}, err
	}
	if err := nativecommon.Guard(p, params.ModuleYield); err != nil {
		return params.ProtocolParams{}, err
	}
	return p, nil
}

func checkSource(source types.AssetClass, amount *big.Int) error {
	if !source.Valid() {
		return coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "asset class %d", uint8(source))
	}
	if !nativecommon.Positive(amount) {
		return coreerrors.ErrInvalidAmount
	}
	return nil
}

// RecordRealizedYield books gross USD that already sits in the source vault's
// custody. The protocol fee is reserved and the remainder raises the exchange
// rate for every holder.
func (e *Engine) RecordRealizedYield(source types.AssetClass, gross *big.Int) (*Report, error) {
	return e.realize(source, gross, ReasonRealized)
}

func (e *Engine) realize(source types.AssetClass, gross *big.Int, reason string) (*Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkSource(source, gross); err != nil {
		return nil, err
	}
	p, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	supply, err := e.token.Supply()
	if err != nil {
		return nil, err
	}
	fee, err := nativecommon.BpsOf(gross, p.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(gross, fee)
	if supply.TotalShares.Sign() == 0 {
		// Nobody to credit: the whole amount stays with the protocol.
		fee = new(big.Int).Set(gross)
		net = big.NewInt(0)
	}
	if err := e.vaults.AddReserve(source, fee); err != nil {
		return nil, err
	}
	report := &Report{Kind: ReportRealized, Source: source, Gross: new(big.Int).Set(gross), Fee: fee, Net: net}
	if err := e.appendReport(report); err != nil {
		return nil, err
	}
	if net.Sign() > 0 {
		if err := e.vaults.Credit(source, net); err != nil {
			return nil, err
		}
		if _, err := e.token.ApplyYield(net, false); err != nil {
			return nil, err
		}
		if err := e.allocate(report.ID, source, net, supply, false); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.YieldDistributed{
		ReportID: report.ID,
		Source:   source,
		Gross:    new(big.Int).Set(gross),
		Fee:      new(big.Int).Set(fee),
		Net:      new(big.Int).Set(net),
		Reason:   reason,
	})
	return report, nil
}

// DepositYield pulls gross stable units from an external payer into stable
// custody and distributes them as realized yield.
func (e *Engine) DepositYield(from [20]byte, gross *big.Int) (*Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, errNilState
	}
	if !nativecommon.Positive(gross) {
		return nil, coreerrors.ErrInvalidAmount
	}
	p, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(from, vault.CustodyAddress(types.AssetClassStable), p.StableAsset, gross, "yield.deposit"); err != nil {
		return nil, err
	}
	return e.realize(types.AssetClassStable, gross, ReasonDeposit)
}

// Redistribute re-applies value forfeited by an exiting holder. The amount is
// still counted in the source vault's liquidity; no fee is taken. When no
// shares remain it moves to the fee reserve instead.
func (e *Engine) Redistribute(source types.AssetClass, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkSource(source, amount); err != nil {
		return err
	}
	supply, err := e.token.Supply()
	if err != nil {
		return err
	}
	report := &Report{Kind: ReportPenalty, Source: source, Gross: new(big.Int).Set(amount), Net: new(big.Int).Set(amount)}
	if supply.TotalShares.Sign() == 0 {
		if _, err := e.vaults.Debit(source, amount, false); err != nil {
			return err
		}
		if err := e.vaults.AddReserve(source, amount); err != nil {
			return err
		}
		report.Fee, report.Net = new(big.Int).Set(amount), big.NewInt(0)
		if err := e.appendReport(report); err != nil {
			return err
		}
	} else {
		if err := e.appendReport(report); err != nil {
			return err
		}
		if _, err := e.token.ApplyYield(amount, false); err != nil {
			return err
		}
		if err := e.allocate(report.ID, source, amount, supply, false); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.YieldDistributed{
		ReportID: report.ID,
		Source:   source,
		Gross:    new(big.Int).Set(amount),
		Fee:      new(big.Int).Set(report.Fee),
		Net:      new(big.Int).Set(report.Net),
		Reason:   ReasonPenalty,
	})
	return nil
}

// RecordLoss socializes a realized loss across every holder. The source vault
// has already written the lost value off its book; the other vaults make it
// whole in proportion to their shares. The applied amount is returned.
func (e *Engine) RecordLoss(source types.AssetClass, loss *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkSource(source, loss); err != nil {
		return nil, err
	}
	if _, err := e.loadParams(); err != nil {
		return nil, err
	}
	supply, err := e.token.Supply()
	if err != nil {
		return nil, err
	}
	applied := big.NewInt(0)
	if supply.TotalShares.Sign() > 0 {
		if applied, err = e.token.ApplyYield(loss, true); err != nil {
			return nil, err
		}
	}
	report := &Report{Kind: ReportLoss, Source: source, Gross: new(big.Int).Set(loss), Net: applied}
	if err := e.appendReport(report); err != nil {
		return nil, err
	}
	if applied.Sign() > 0 {
		if err := e.allocate(report.ID, source, applied, supply, true); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.YieldLoss{
		ReportID: report.ID,
		Source:   source,
		Loss:     new(big.Int).Set(loss),
		Applied:  new(big.Int).Set(applied),
	})
	return applied, nil
}

// allocate moves the cross-vault part of a backing change between books.
// supply is the token state before the change; each vault's part is
// amount * vaultShares / totalShares.
func (e *Engine) allocate(reportID uint64, source types.AssetClass, amount *big.Int, supply token.Supply, loss bool) error {
	total := nativecommon.Copy(supply.TotalShares)
	if total.Sign() == 0 {
		return nil
	}
	for _, class := range types.AssetClasses {
		if class == source {
			continue
		}
		book, err := e.vaults.Book(class)
		if err != nil {
			return err
		}
		if book.Shares.Sign() == 0 {
			continue
		}
		part, err := nativecommon.MulDiv(amount, book.Shares, total)
		if err != nil {
			return err
		}
		if part.Sign() == 0 {
			continue
		}
		from, to := source, class
		if loss {
			from, to = class, source
		}
		moved, err := e.vaults.Debit(from, part, loss)
		if err != nil {
			return err
		}
		if moved.Sign() == 0 {
			continue
		}
		if err := e.vaults.Credit(to, moved); err != nil {
			return err
		}
		if err := e.openOrder(reportID, from, to, moved); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) openOrder(reportID uint64, from, to types.AssetClass, usd *big.Int) error {
	id, err := e.store.NextSequence(orderSeqKey)
	if err != nil {
		return err
	}
	order := &RebalanceOrder{
		ID:        id,
		ReportID:  reportID,
		From:      from,
		To:        to,
		USD:       new(big.Int).Set(usd),
		Status:    OrderOpen,
		CreatedAt: uint64(e.now().Unix()),
	}
	if err := e.putOrder(order); err != nil {
		return err
	}
	if _, err := e.store.ListAppend(orderIndexKey, id); err != nil {
		return err
	}
	e.emitter.Emit(events.RebalanceOrdered{OrderID: id, From: from, To: to, USD: new(big.Int).Set(usd)})
	return nil
}

// SettleRebalance records the treasury operator moving custody for an open
// order. The operator receives the order's value from the paying vault in
// releaseAsset and delivers the same value to the receiving vault in
// deliverAsset, both priced at the current oracle rate.
func (e *Engine) SettleRebalance(caller [20]byte, orderID uint64, releaseAsset, deliverAsset string) (*RebalanceOrder, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, errNilState
	}
	p, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	treasury, ok, err := params.Authority(p.TreasuryAuthority)
	if err != nil {
		return nil, err
	}
	if !ok || caller != treasury {
		return nil, coreerrors.Wrap(coreerrors.ErrUnauthorized, "rebalance settlement requires the treasury authority")
	}
	order, found, err := e.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, coreerrors.Wrap(coreerrors.ErrOrderNotFound, "%d", orderID)
	}
	if order.Status != OrderOpen {
		return nil, coreerrors.Wrap(coreerrors.ErrOrderSettled, "%d", orderID)
	}
	released, err := e.units(p, order.From, releaseAsset, order.USD)
	if err != nil {
		return nil, err
	}
	delivered, err := e.units(p, order.To, deliverAsset, order.USD)
	if err != nil {
		return nil, err
	}
	if released.Sign() > 0 {
		if err := e.bank.Transfer(vault.CustodyAddress(order.From), caller, params.NormalizeAsset(releaseAsset), released, "yield.rebalance"); err != nil {
			return nil, err
		}
	}
	if delivered.Sign() > 0 {
		if err := e.bank.Transfer(caller, vault.CustodyAddress(order.To), params.NormalizeAsset(deliverAsset), delivered, "yield.rebalance"); err != nil {
			return nil, err
		}
	}
	order.Status = OrderSettled
	order.SettledAt = uint64(e.now().Unix())
	order.Operator = caller
	if err := e.putOrder(order); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.RebalanceSettled{
		OrderID:  order.ID,
		Operator: caller,
		Asset:    deliverAsset,
		Units:    new(big.Int).Set(delivered),
		USD:      new(big.Int).Set(order.USD),
	})
	return order, nil
}

func (e *Engine) units(p params.ProtocolParams, class types.AssetClass, asset string, usd *big.Int) (*big.Int, error) {
	assetClass, err := vault.ClassOf(p, asset)
	if err != nil {
		return nil, err
	}
	if assetClass != class {
		return nil, coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "%s is not held by the %s vault", params.NormalizeAsset(asset), class)
	}
	if class == types.AssetClassStable {
		return new(big.Int).Set(usd), nil
	}
	if e.prices == nil {
		return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "no oracle configured")
	}
	price, err := e.prices.PriceUSD(asset)
	if err != nil {
		return nil, err
	}
	return nativecommon.USDToUnits(usd, price)
}

// Report returns a stored distribution report.
func (e *Engine) Report(id uint64) (*Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	r, ok, err := e.loadReport(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrReportNotFound, "%d", id)
	}
	return r, nil
}

// Reports pages through reports in the order they were recorded and returns
// the total count. A zero limit reads to the end.
func (e *Engine) Reports(start, limit uint64) ([]*Report, uint64, error) {
	if err := e.ready(); err != nil {
		return nil, 0, err
	}
	ids, total, err := nativecommon.PageIDs(e.store, reportIndexKey, start, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Report, 0, len(ids))
	for _, id := range ids {
		r, ok, err := e.loadReport(id)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, total, nil
}

// Totals returns cumulative gross, fees, net and losses.
func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadTotals()
}

// Order returns a rebalance order.
func (e *Engine) Order(id uint64) (*RebalanceOrder, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, ok, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrOrderNotFound, "%d", id)
	}
	return order, nil
}

// OpenOrders lists rebalance orders still awaiting settlement.
func (e *Engine) OpenOrders() ([]*RebalanceOrder, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := nativecommon.IDs(e.store, orderIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*RebalanceOrder, 0)
	for _, id := range ids {
		order, ok, err := e.loadOrder(id)
		if err != nil {
			return nil, err
		}
		if ok && order.Status == OrderOpen {
			out = append(out, order)
		}
	}
	return out, nil
}
