package vault

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
)

var errNilState = errors.New("vault engine: state not configured")

type tokenLedger interface {
	Mint(to [20]byte, usd *big.Int, multiplierBps uint64) (token.MintResult, error)
	Redeem(from [20]byte, shares, offset *big.Int) (*big.Int, error)
	Transfer(from, to [20]byte, shares, offset *big.Int) error
	ValueOf(shares, offset *big.Int) (*big.Int, error)
}

type assetLedger interface {
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Transfer(from, to [20]byte, asset string, amount *big.Int, reason string) error
}

type priceSource interface {
	PriceUSD(asset string) (*big.Int, error)
}

type paramSource interface {
	Params() (params.ProtocolParams, error)
}

// PenaltySink receives yield forfeited by early exits so it can be re-applied
// to the remaining holders.
type PenaltySink interface {
	Redistribute(source types.AssetClass, amount *big.Int) error
}

// Engine is the vault ledger for every asset class. Each class keeps its own
// book and custody account; all of them mint into the same token ledger.
type Engine struct {
	store   storage
	token   tokenLedger
	bank    assetLedger
	prices  priceSource
	params  paramSource
	penalty PenaltySink
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine wires the vault ledger to its collaborators.
func NewEngine(store storage, tokens tokenLedger, bank assetLedger, prices priceSource, p paramSource) *Engine {
	return &Engine{
		store:   store,
		token:   tokens,
		bank:    bank,
		prices:  prices,
		params:  p,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetPenaltySink wires the component that re-applies emergency penalties.
func (e *Engine) SetPenaltySink(sink PenaltySink) { e.penalty = sink }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for lock checks.
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
	if e == nil || e.store == nil || e.token == nil || e.bank == nil || e.params == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) loadParams() (params.ProtocolParams, error) {
	p, err := e.params.Params()
	if err != nil {
		return params.ProtocolParams{}, err
	}
	if err := nativecommon.Guard(p, params.ModuleVault); err != nil {
		return params.ProtocolParams{}, err
	}
	return p, nil
}

// ClassOf maps an asset onto the vault that accepts it.
func ClassOf(p params.ProtocolParams, asset string) (types.AssetClass, error) {
	normalized := params.NormalizeAsset(asset)
	switch {
	case normalized == "":
		return types.AssetClassUnknown, coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "asset required")
	case normalized == params.NormalizeAsset(p.StableAsset):
		return types.AssetClassStable, nil
	case p.IsCommodityAsset(normalized):
		return types.AssetClassCommodity, nil
	default:
		return types.AssetClassUnknown, coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "%s", normalized)
	}
}

// unitsToUSD values a deposit. Stable units are dollars already.
func (e *Engine) unitsToUSD(class types.AssetClass, asset string, units *big.Int) (*big.Int, error) {
	if class == types.AssetClassStable {
		return new(big.Int).Set(units), nil
	}
	price, err := e.prices.PriceUSD(asset)
	if err != nil {
		return nil, err
	}
	return nativecommon.UnitsToUSD(units, price)
}

func (e *Engine) usdToUnits(class types.AssetClass, asset string, usd *big.Int) (*big.Int, error) {
	if class == types.AssetClassStable {
		return new(big.Int).Set(usd), nil
	}
	price, err := e.prices.PriceUSD(asset)
	if err != nil {
		return nil, err
	}
	return nativecommon.USDToUnits(usd, price)
}

// Deposit locks amount of asset for the chosen period and mints the
// multiplier-adjusted share balance to owner.
func (e *Engine) Deposit(owner [20]byte, asset string, amount *big.Int, lock types.LockPeriod) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !nativecommon.Positive(amount) {
		return 0, coreerrors.ErrInvalidAmount
	}
	if !lock.Valid() {
		return 0, coreerrors.Wrap(coreerrors.ErrUnknownLockPeriod, "%d", uint8(lock))
	}
	p, err := e.loadParams()
	if err != nil {
		return 0, err
	}
	class, err := ClassOf(p, asset)
	if err != nil {
		return 0, err
	}
	asset = params.NormalizeAsset(asset)
	if class == types.AssetClassCommodity && e.prices == nil {
		return 0, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "no oracle configured")
	}
	usd, err := e.unitsToUSD(class, asset, amount)
	if err != nil {
		return 0, err
	}
	if usd.Sign() == 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidAmount, "deposit worth less than one micro-dollar")
	}
	multiplier, err := p.MultiplierBps(lock)
	if err != nil {
		return 0, err
	}
	if err := e.bank.Transfer(owner, CustodyAddress(class), asset, amount, "vault.deposit"); err != nil {
		return 0, err
	}
	minted, err := e.token.Mint(owner, usd, multiplier)
	if err != nil {
		return 0, err
	}
	book, err := e.loadBook(class)
	if err != nil {
		return 0, err
	}
	book.Liquidity.Add(book.Liquidity, usd)
	book.Principal.Add(book.Principal, usd)
	book.Shares.Add(book.Shares, minted.Shares)
	book.Offset.Add(book.Offset, minted.Offset)
	book.Positions++
	if err := e.putBook(book); err != nil {
		return 0, err
	}

	id, err := e.store.NextSequence(positionSeqKey)
	if err != nil {
		return 0, err
	}
	start := e.now()
	unlock := start.Add(lock.Duration())
	pos := &Position{
		ID:            id,
		Owner:         owner,
		Class:         class,
		Asset:         asset,
		AssetUnits:    new(big.Int).Set(amount),
		Principal:     usd,
		LockPeriod:    lock,
		MultiplierBps: multiplier,
		StartTime:     uint64(start.Unix()),
		UnlockTime:    uint64(unlock.Unix()),
		Shares:        minted.Shares,
		Offset:        minted.Offset,
		Status:        PositionActive,
	}
	if err := e.putPosition(pos); err != nil {
		return 0, err
	}
	if _, err := e.store.ListAppend(ownerIndexKey(owner), id); err != nil {
		return 0, err
	}
	e.emitter.Emit(events.VaultDeposit{
		PositionID: id,
		Owner:      owner,
		Class:      class,
		Asset:      asset,
		Units:      new(big.Int).Set(amount),
		USD:        new(big.Int).Set(usd),
		Lock:       lock,
		Shares:     new(big.Int).Set(minted.Shares),
		UnlockTime: unlock.Unix(),
	})
	return id, nil
}

func (e *Engine) activePosition(caller [20]byte, id uint64) (*Position, error) {
	pos, ok, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrPositionNotFound, "%d", id)
	}
	if pos.Status.Terminal() {
		return nil, coreerrors.Wrap(coreerrors.ErrAlreadyWithdrawn, "%d", id)
	}
	if pos.Owner != caller {
		return nil, coreerrors.Wrap(coreerrors.ErrUnauthorized, "position %d belongs to another owner", id)
	}
	return pos, nil
}

// Withdraw closes an unlocked position, paying principal plus accrued yield.
func (e *Engine) Withdraw(caller [20]byte, id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.loadParams(); err != nil {
		return nil, err
	}
	pos, err := e.activePosition(caller, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if uint64(now.Unix()) < pos.UnlockTime {
		return nil, coreerrors.Wrap(coreerrors.ErrStillLocked, "position %d unlocks at %d", id, pos.UnlockTime)
	}
	value, err := e.token.ValueOf(pos.Shares, pos.Offset)
	if err != nil {
		return nil, err
	}
	return e.close(pos, value, big.NewInt(0), PositionWithdrawn, now)
}

// EmergencyWithdraw closes a position before its lock expires. The penalty is
// a share of accrued yield only; principal is always returned. Forfeited yield
// stays in the pool for the remaining holders.
func (e *Engine) EmergencyWithdraw(caller [20]byte, id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.activePosition(caller, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	value, err := e.token.ValueOf(pos.Shares, pos.Offset)
	if err != nil {
		return nil, err
	}
	penalty := big.NewInt(0)
	if uint64(now.Unix()) < pos.UnlockTime {
		accrued := nativecommon.SubFloor(value, pos.Principal)
		if penalty, err = nativecommon.BpsOf(accrued, p.EmergencyPenaltyBps); err != nil {
			return nil, err
		}
	}
	return e.close(pos, value, penalty, PositionEmergencyWithdrawn, now)
}

func (e *Engine) close(pos *Position, value, penalty *big.Int, status PositionStatus, now time.Time) (*big.Int, error) {
	payout := new(big.Int).Sub(value, penalty)
	book, err := e.loadBook(pos.Class)
	if err != nil {
		return nil, err
	}
	if book.Liquidity.Cmp(payout) < 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInsufficientLiquidity, "%s vault holds %s, position needs %s", pos.Class, book.Liquidity, payout)
	}
	redeemed, err := e.token.Redeem(pos.Owner, pos.Shares, pos.Offset)
	if err != nil {
		return nil, err
	}
	if redeemed.Cmp(value) < 0 {
		// Redeem caps at total backing; never pay the penalty out of it.
		payout = nativecommon.SubFloor(redeemed, penalty)
		penalty = nativecommon.Min(penalty, redeemed)
	}
	units := big.NewInt(0)
	if payout.Sign() > 0 {
		if units, err = e.usdToUnits(pos.Class, pos.Asset, payout); err != nil {
			return nil, err
		}
		custody := CustodyAddress(pos.Class)
		held, err := e.bank.Balance(custody, pos.Asset)
		if err != nil {
			return nil, err
		}
		if held.Cmp(units) < 0 {
			return nil, coreerrors.Wrap(coreerrors.ErrInsufficientLiquidity, "custody holds %s %s, payout needs %s", held, pos.Asset, units)
		}
		if units.Sign() > 0 {
			if err := e.bank.Transfer(custody, pos.Owner, pos.Asset, units, "vault.withdraw"); err != nil {
				return nil, err
			}
		}
	}

	book.Liquidity.Sub(book.Liquidity, payout)
	book.Shares = nativecommon.SubFloor(book.Shares, pos.Shares)
	book.Offset = nativecommon.SubFloor(book.Offset, pos.Offset)
	book.Principal = nativecommon.SubFloor(book.Principal, pos.Principal)
	if book.Positions > 0 {
		book.Positions--
	}
	if err := e.putBook(book); err != nil {
		return nil, err
	}

	pos.Status = status
	pos.ClosedAt = uint64(now.Unix())
	pos.PaidUSD = new(big.Int).Set(payout)
	pos.Penalty = new(big.Int).Set(penalty)
	if err := e.putPosition(pos); err != nil {
		return nil, err
	}
	if penalty.Sign() > 0 {
		if e.penalty == nil {
			return nil, errors.New("vault engine: penalty sink not configured")
		}
		if err := e.penalty.Redistribute(pos.Class, penalty); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.VaultWithdraw{
		PositionID: pos.ID,
		Owner:      pos.Owner,
		Class:      pos.Class,
		Asset:      pos.Asset,
		USD:        new(big.Int).Set(payout),
		Units:      units,
		Penalty:    new(big.Int).Set(penalty),
		Emergency:  status == PositionEmergencyWithdrawn,
	})
	return payout, nil
}

// Position returns a copy of the stored position.
func (e *Engine) Position(id uint64) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, ok, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrPositionNotFound, "%d", id)
	}
	return pos, nil
}

// Positions lists the positions owner currently holds, terminal ones
// included, in the order owner acquired them.
func (e *Engine) Positions(owner [20]byte) ([]*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := ownerIndexKey(owner)
	n, err := e.store.ListLen(key)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, n)
	seen := make(map[uint64]struct{}, n)
	for i := uint64(0); i < n; i++ {
		var id uint64
		if _, err := e.store.ListGet(key, i, &id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pos, ok, err := e.loadPosition(id)
		if err != nil {
			return nil, err
		}
		// the index keeps ids of positions transferred away
		if ok && pos.Owner == owner {
			out = append(out, pos)
		}
	}
	return out, nil
}

// TransferPosition hands an active position, lock and all, to another
// account. The position's shares and offset move with it in the token ledger
// so the new owner can withdraw it once unlocked.
func (e *Engine) TransferPosition(caller [20]byte, id uint64, to [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.loadParams(); err != nil {
		return err
	}
	if to == ([20]byte{}) || to == caller {
		return coreerrors.ErrInvalidRecipient
	}
	pos, err := e.activePosition(caller, id)
	if err != nil {
		return err
	}
	if err := e.token.Transfer(caller, to, pos.Shares, pos.Offset); err != nil {
		return err
	}
	pos.Owner = to
	if err := e.putPosition(pos); err != nil {
		return err
	}
	if _, err := e.store.ListAppend(ownerIndexKey(to), id); err != nil {
		return err
	}
	e.emitter.Emit(events.VaultTransfer{
		PositionID: id,
		From:       caller,
		To:         to,
		Shares:     new(big.Int).Set(pos.Shares),
	})
	return nil
}

// PositionValue returns what an active position is worth right now.
func (e *Engine) PositionValue(id uint64) (*big.Int, error) {
	pos, err := e.Position(id)
	if err != nil {
		return nil, err
	}
	if pos.Status.Terminal() {
		return big.NewInt(0), nil
	}
	return e.token.ValueOf(pos.Shares, pos.Offset)
}
