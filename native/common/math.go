package common

import (
	"math/big"

	"github.com/holiman/uint256"

	coreerrors "yieldprotocol/core/errors"
)

var (
	// BasisPoints is the denominator for every bps-expressed ratio.
	BasisPoints = big.NewInt(10_000)
	// Ray is the precision used when rendering exchange rates.
	Ray = mustBigInt("1000000000000000000000000000") // 1e27 precision
	// MicroUnit is the number of base units in one whole asset unit.
	MicroUnit = big.NewInt(1_000_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// CheckRange rejects values that are negative or do not fit in 256 bits.
func CheckRange(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return coreerrors.Wrap(coreerrors.ErrArithmeticOverflow, "negative intermediate %s", v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return coreerrors.ErrArithmeticOverflow
	}
	return nil
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return big.NewInt(0) }

// Copy returns an independent copy; nil maps to zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MulDiv computes floor(a*b/d). The product must fit in 256 bits.
func MulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrArithmeticOverflow, "division by zero")
	}
	product := new(big.Int).Mul(Copy(a), Copy(b))
	if err := CheckRange(product); err != nil {
		return nil, err
	}
	return product.Quo(product, d), nil
}

// MulDivUp computes ceil(a*b/d).
func MulDivUp(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrArithmeticOverflow, "division by zero")
	}
	product := new(big.Int).Mul(Copy(a), Copy(b))
	if err := CheckRange(product); err != nil {
		return nil, err
	}
	quo, rem := new(big.Int).QuoRem(product, d, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// BpsOf returns floor(amount*bps/10_000).
func BpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(amount, new(big.Int).SetUint64(bps), BasisPoints)
}

// Add returns a+b after a range check.
func Add(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(Copy(a), Copy(b))
	if err := CheckRange(sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// SubFloor returns max(0, a-b).
func SubFloor(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(Copy(a), Copy(b))
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if Copy(a).Cmp(Copy(b)) <= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// Positive reports whether v is strictly greater than zero.
func Positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// UnitsToUSD converts micro-units of an asset to micro-USD at price, where
// price is micro-USD per whole unit.
func UnitsToUSD(units, price *big.Int) (*big.Int, error) {
	return MulDiv(units, price, MicroUnit)
}

// USDToUnits converts micro-USD to micro-units at price, rounding down.
func USDToUnits(usd, price *big.Int) (*big.Int, error) {
	if !Positive(price) {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidValuation, "price must be positive")
	}
	return MulDiv(usd, MicroUnit, price)
}
