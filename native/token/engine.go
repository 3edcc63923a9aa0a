package token

import (
	"errors"
	"math/big"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	nativecommon "yieldprotocol/native/common"
)

var errNilState = errors.New("token engine: state not configured")

// Engine is the rebasing unit-of-account ledger. Holders own shares; the USD
// value of a share moves only when yield or a loss is applied.
type Engine struct {
	store    storage
	emitter  events.Emitter
	heightFn func() uint64
}

// NewEngine constructs a token ledger bound to the provided storage backend.
func NewEngine(store storage) *Engine {
	return &Engine{store: store, emitter: events.NoopEmitter{}}
}

// SetState rebinds the storage backend.
func (e *Engine) SetState(store storage) { e.store = store }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetHeightFunc wires the ledger height used to stamp balance checkpoints.
func (e *Engine) SetHeightFunc(fn func() uint64) { e.heightFn = fn }

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return errNilState
	}
	return nil
}

// Supply returns the current aggregate token state.
func (e *Engine) Supply() (Supply, error) {
	if err := e.ready(); err != nil {
		return Supply{}, err
	}
	return e.loadSupply()
}

// ExchangeRateRay returns the USD value of one share in 1e27 precision.
func (e *Engine) ExchangeRateRay() (*big.Int, error) {
	supply, err := e.Supply()
	if err != nil {
		return nil, err
	}
	return supply.RateRay(), nil
}

// Holding returns the raw share and offset balance of addr.
func (e *Engine) Holding(addr [20]byte) (Holding, error) {
	if err := e.ready(); err != nil {
		return Holding{}, err
	}
	return e.loadHolding(addr)
}

// BalanceOfUSD returns the current USD value of addr's shares.
func (e *Engine) BalanceOfUSD(addr [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	supply, err := e.loadSupply()
	if err != nil {
		return nil, err
	}
	holding, err := e.loadHolding(addr)
	if err != nil {
		return nil, err
	}
	return valueOf(supply, holding.Shares, holding.Offset)
}

// ValueOf prices an arbitrary share/offset pair at the current rate.
func (e *Engine) ValueOf(shares, offset *big.Int) (*big.Int, error) {
	supply, err := e.Supply()
	if err != nil {
		return nil, err
	}
	return valueOf(supply, shares, offset)
}

// BalanceOfUSDAt returns addr's USD value as of the end of height.
func (e *Engine) BalanceOfUSDAt(addr [20]byte, height uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	supply, err := e.supplyAt(height)
	if err != nil {
		return nil, err
	}
	holding, err := e.holdingAt(addr, height)
	if err != nil {
		return nil, err
	}
	return valueOf(supply, holding.Shares, holding.Offset)
}

// TotalBackingAt returns the USD backing as of the end of height.
func (e *Engine) TotalBackingAt(height uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	supply, err := e.supplyAt(height)
	if err != nil {
		return nil, err
	}
	return supply.TotalBacking, nil
}

// Holders returns up to limit addresses from the holder index starting at
// start, in first-seen order, together with the index length.
func (e *Engine) Holders(start, limit uint64) ([][20]byte, uint64, error) {
	if err := e.ready(); err != nil {
		return nil, 0, err
	}
	total, err := e.store.ListLen(holderIndexKey)
	if err != nil {
		return nil, 0, err
	}
	out := make([][20]byte, 0)
	for i := start; i < total && uint64(len(out)) < limit; i++ {
		var addr [20]byte
		if _, err := e.store.ListGet(holderIndexKey, i, &addr); err != nil {
			return nil, 0, err
		}
		out = append(out, addr)
	}
	return out, total, nil
}

// Mint credits to with shares worth usd at the current rate, boosted by
// multiplierBps. The boost is recorded as an offset so the holder's value on
// entry equals usd; the rate is unchanged apart from rounding in favour of
// existing holders.
func (e *Engine) Mint(to [20]byte, usd *big.Int, multiplierBps uint64) (MintResult, error) {
	if err := e.ready(); err != nil {
		return MintResult{}, err
	}
	if !nativecommon.Positive(usd) {
		return MintResult{}, coreerrors.ErrInvalidAmount
	}
	if multiplierBps < nativecommon.BasisPoints.Uint64() {
		return MintResult{}, coreerrors.Wrap(coreerrors.ErrInvalidParams, "multiplier %d below 1x", multiplierBps)
	}
	supply, err := e.loadSupply()
	if err != nil {
		return MintResult{}, err
	}
	weighted, err := nativecommon.BpsOf(usd, multiplierBps)
	if err != nil {
		return MintResult{}, err
	}
	shares := new(big.Int).Set(weighted)
	if supply.TotalShares.Sign() > 0 {
		gross := supply.grossValue()
		if gross.Sign() == 0 {
			return MintResult{}, coreerrors.Wrap(coreerrors.ErrNoSharesOutstanding, "exchange rate is zero")
		}
		if shares, err = nativecommon.MulDiv(weighted, supply.TotalShares, gross); err != nil {
			return MintResult{}, err
		}
	}
	if shares.Sign() == 0 {
		return MintResult{}, coreerrors.Wrap(coreerrors.ErrInvalidAmount, "deposit too small to mint a share")
	}
	offset := new(big.Int).Sub(weighted, usd)

	holding, err := e.loadHolding(to)
	if err != nil {
		return MintResult{}, err
	}
	holding.Shares.Add(holding.Shares, shares)
	holding.Offset.Add(holding.Offset, offset)
	supply.TotalShares.Add(supply.TotalShares, shares)
	supply.TotalBacking.Add(supply.TotalBacking, usd)
	supply.TotalOffset.Add(supply.TotalOffset, offset)
	for _, v := range []*big.Int{supply.TotalShares, supply.TotalBacking, supply.TotalOffset} {
		if err := nativecommon.CheckRange(v); err != nil {
			return MintResult{}, err
		}
	}
	if err := e.putHolding(to, holding); err != nil {
		return MintResult{}, err
	}
	if err := e.putSupply(supply); err != nil {
		return MintResult{}, err
	}
	e.emitter.Emit(events.TokenMint{
		Holder:        to,
		USD:           new(big.Int).Set(usd),
		Shares:        new(big.Int).Set(shares),
		Offset:        new(big.Int).Set(offset),
		MultiplierBps: multiplierBps,
	})
	return MintResult{Shares: shares, Offset: offset}, nil
}

// Redeem destroys shares together with the given offset and returns the USD
// value released. The payout never exceeds the total backing.
func (e *Engine) Redeem(from [20]byte, shares, offset *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(shares) {
		return nil, coreerrors.ErrInvalidAmount
	}
	offset = nativecommon.Copy(offset)
	holding, err := e.loadHolding(from)
	if err != nil {
		return nil, err
	}
	if holding.Shares.Cmp(shares) < 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInsufficientShares, "have %s, need %s", holding.Shares, shares)
	}
	if holding.Offset.Cmp(offset) < 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInsufficientShares, "holder offset %s below position offset %s", holding.Offset, offset)
	}
	supply, err := e.loadSupply()
	if err != nil {
		return nil, err
	}
	value, err := valueOf(supply, shares, offset)
	if err != nil {
		return nil, err
	}
	value = nativecommon.Min(value, supply.TotalBacking)

	holding.Shares.Sub(holding.Shares, shares)
	holding.Offset.Sub(holding.Offset, offset)
	supply.TotalShares.Sub(supply.TotalShares, shares)
	supply.TotalOffset = nativecommon.SubFloor(supply.TotalOffset, offset)
	supply.TotalBacking.Sub(supply.TotalBacking, value)
	if err := e.putHolding(from, holding); err != nil {
		return nil, err
	}
	if err := e.putSupply(supply); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TokenBurn{Holder: from, Shares: new(big.Int).Set(shares), USD: new(big.Int).Set(value)})
	return value, nil
}

// Burn destroys shares, releasing a proportional part of the holder's offset.
func (e *Engine) Burn(from [20]byte, shares *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	holding, err := e.loadHolding(from)
	if err != nil {
		return nil, err
	}
	offset, err := proportionalOffset(holding, shares)
	if err != nil {
		return nil, err
	}
	return e.Redeem(from, shares, offset)
}

func proportionalOffset(holding Holding, shares *big.Int) (*big.Int, error) {
	if !nativecommon.Positive(shares) {
		return nil, coreerrors.ErrInvalidAmount
	}
	if holding.Shares.Cmp(shares) < 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInsufficientShares, "have %s, need %s", holding.Shares, shares)
	}
	if holding.Shares.Cmp(shares) == 0 {
		return new(big.Int).Set(holding.Offset), nil
	}
	return nativecommon.MulDiv(holding.Offset, shares, holding.Shares)
}

// Transfer moves shares together with exactly offset from one holder to
// another. Callers pass the offset booked against the shares, so the value
// moved is the value of the position being handed over.
func (e *Engine) Transfer(from, to [20]byte, shares, offset *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !nativecommon.Positive(shares) {
		return coreerrors.ErrInvalidAmount
	}
	offset = nativecommon.Copy(offset)
	sender, err := e.loadHolding(from)
	if err != nil {
		return err
	}
	if sender.Shares.Cmp(shares) < 0 {
		return coreerrors.Wrap(coreerrors.ErrInsufficientShares, "have %s, need %s", sender.Shares, shares)
	}
	if sender.Offset.Cmp(offset) < 0 {
		return coreerrors.Wrap(coreerrors.ErrInsufficientShares, "holder offset %s below position offset %s", sender.Offset, offset)
	}
	if from == to {
		return nil
	}
	recipient, err := e.loadHolding(to)
	if err != nil {
		return err
	}
	sender.Shares.Sub(sender.Shares, shares)
	sender.Offset.Sub(sender.Offset, offset)
	recipient.Shares.Add(recipient.Shares, shares)
	recipient.Offset.Add(recipient.Offset, offset)
	if err := e.putHolding(from, sender); err != nil {
		return err
	}
	if err := e.putHolding(to, recipient); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenTransfer{From: from, To: to, Shares: new(big.Int).Set(shares)})
	return nil
}

// ApplyYield changes the total backing by delta and so moves the exchange rate
// for every holder at once. Losses are floored at zero backing; the applied
// amount is returned.
func (e *Engine) ApplyYield(delta *big.Int, isLoss bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(delta) {
		return nil, coreerrors.ErrInvalidAmount
	}
	supply, err := e.loadSupply()
	if err != nil {
		return nil, err
	}
	if supply.TotalShares.Sign() == 0 {
		return nil, coreerrors.ErrNoSharesOutstanding
	}
	applied := new(big.Int).Set(delta)
	reason := events.SupplyReasonYield
	signed := new(big.Int).Set(delta)
	if isLoss {
		applied = nativecommon.Min(delta, supply.TotalBacking)
		supply.TotalBacking.Sub(supply.TotalBacking, applied)
		reason = events.SupplyReasonLoss
		signed.Neg(applied)
	} else {
		supply.TotalBacking.Add(supply.TotalBacking, applied)
		if err := nativecommon.CheckRange(supply.TotalBacking); err != nil {
			return nil, err
		}
	}
	if err := e.putSupply(supply); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TokenSupply{
		TotalBacking: new(big.Int).Set(supply.TotalBacking),
		TotalShares:  new(big.Int).Set(supply.TotalShares),
		Delta:        signed,
		RateRay:      supply.RateRay(),
		Reason:       reason,
	})
	return applied, nil
}
