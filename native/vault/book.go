package vault

import (
	"math/big"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/types"
	nativecommon "yieldprotocol/native/common"
)

// Book mutators are the only way lending and the yield distributor touch a
// vault's accounting. Each one loads, checks and stores the book inside the
// caller's state snapshot.

func (e *Engine) mutateBook(class types.AssetClass, fn func(*Book) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !class.Valid() {
		return coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "asset class %d", uint8(class))
	}
	book, err := e.loadBook(class)
	if err != nil {
		return err
	}
	if err := fn(book); err != nil {
		return err
	}
	for _, v := range []*big.Int{book.Liquidity, book.Lent, book.Reserve} {
		if err := nativecommon.CheckRange(v); err != nil {
			return err
		}
	}
	return e.putBook(book)
}

// Book returns a copy of the class book.
func (e *Engine) Book(class types.AssetClass) (*Book, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadBook(class)
}

// Books returns every vault book in class order.
func (e *Engine) Books() ([]*Book, error) {
	out := make([]*Book, 0, len(types.AssetClasses))
	for _, class := range types.AssetClasses {
		book, err := e.Book(class)
		if err != nil {
			return nil, err
		}
		out = append(out, book)
	}
	return out, nil
}

// Draw moves amount from free liquidity into the lent bucket.
func (e *Engine) Draw(class types.AssetClass, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return coreerrors.ErrInvalidAmount
	}
	return e.mutateBook(class, func(b *Book) error {
		if b.Liquidity.Cmp(amount) < 0 {
			return coreerrors.Wrap(coreerrors.ErrInsufficientLiquidity, "%s vault holds %s, need %s", class, b.Liquidity, amount)
		}
		b.Liquidity.Sub(b.Liquidity, amount)
		b.Lent.Add(b.Lent, amount)
		return nil
	})
}

// Restore settles lent value. repaid returns to liquidity and writtenOff
// leaves the book entirely; their sum must not exceed what is lent.
func (e *Engine) Restore(class types.AssetClass, repaid, writtenOff *big.Int) error {
	repaid = nativecommon.Copy(repaid)
	writtenOff = nativecommon.Copy(writtenOff)
	if repaid.Sign() < 0 || writtenOff.Sign() < 0 {
		return coreerrors.ErrInvalidAmount
	}
	total := new(big.Int).Add(repaid, writtenOff)
	return e.mutateBook(class, func(b *Book) error {
		if b.Lent.Cmp(total) < 0 {
			return coreerrors.Wrap(coreerrors.ErrInvalidAmount, "%s vault lent %s, settling %s", class, b.Lent, total)
		}
		b.Lent.Sub(b.Lent, total)
		b.Liquidity.Add(b.Liquidity, repaid)
		return nil
	})
}

// Credit adds value to free liquidity.
func (e *Engine) Credit(class types.AssetClass, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return nil
	}
	return e.mutateBook(class, func(b *Book) error {
		b.Liquidity.Add(b.Liquidity, amount)
		return nil
	})
}

// Debit removes value from free liquidity and reports how much was removed.
// When floor is set the debit is capped at the available liquidity instead of
// failing.
func (e *Engine) Debit(class types.AssetClass, amount *big.Int, floor bool) (*big.Int, error) {
	taken := big.NewInt(0)
	if !nativecommon.Positive(amount) {
		return taken, nil
	}
	err := e.mutateBook(class, func(b *Book) error {
		if b.Liquidity.Cmp(amount) < 0 && !floor {
			return coreerrors.Wrap(coreerrors.ErrInsufficientLiquidity, "%s vault holds %s, need %s", class, b.Liquidity, amount)
		}
		taken = nativecommon.Min(amount, b.Liquidity)
		b.Liquidity.Sub(b.Liquidity, taken)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// AddReserve books value held in custody as protocol fee reserve.
func (e *Engine) AddReserve(class types.AssetClass, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return nil
	}
	return e.mutateBook(class, func(b *Book) error {
		b.Reserve.Add(b.Reserve, amount)
		return nil
	})
}

// Rebalance moves book value between vaults. Custody follows once the
// matching rebalance order is settled.
func (e *Engine) Rebalance(from, to types.AssetClass, amount *big.Int) error {
	if !nativecommon.Positive(amount) || from == to {
		return nil
	}
	if _, err := e.Debit(from, amount, false); err != nil {
		return err
	}
	return e.Credit(to, amount)
}
