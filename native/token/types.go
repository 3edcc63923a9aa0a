package token

import (
	"math/big"

	nativecommon "yieldprotocol/native/common"
)

// Supply aggregates the token state. The exchange rate is derived, never
// stored: (TotalBacking + TotalOffset) / TotalShares.
//
// TotalOffset is the sum of every holder's offset. An offset is the USD amount
// a multiplier-boosted deposit was over-credited in shares at mint time; it is
// subtracted from the holder's gross share value so the deposit is worth
// exactly its principal on entry while later yield accrues on the boosted
// share count.
type Supply struct {
	TotalShares  *big.Int
	TotalBacking *big.Int
	TotalOffset  *big.Int
}

func (s Supply) normalized() Supply {
	return Supply{
		TotalShares:  nativecommon.Copy(s.TotalShares),
		TotalBacking: nativecommon.Copy(s.TotalBacking),
		TotalOffset:  nativecommon.Copy(s.TotalOffset),
	}
}

// Clone returns a deep copy.
func (s Supply) Clone() Supply { return s.normalized() }

// grossValue is TotalBacking + TotalOffset.
func (s Supply) grossValue() *big.Int {
	return new(big.Int).Add(nativecommon.Copy(s.TotalBacking), nativecommon.Copy(s.TotalOffset))
}

// RateRay renders the exchange rate in 1e27 precision. An empty supply reports
// a rate of exactly one.
func (s Supply) RateRay() *big.Int {
	shares := nativecommon.Copy(s.TotalShares)
	if shares.Sign() == 0 {
		return new(big.Int).Set(nativecommon.Ray)
	}
	out := new(big.Int).Mul(s.grossValue(), nativecommon.Ray)
	return out.Quo(out, shares)
}

// Holding is a holder's share balance and accumulated offset.
type Holding struct {
	Shares *big.Int
	Offset *big.Int
}

func (h Holding) normalized() Holding {
	return Holding{Shares: nativecommon.Copy(h.Shares), Offset: nativecommon.Copy(h.Offset)}
}

// MintResult reports what a mint created so the caller can book it against a
// position.
type MintResult struct {
	Shares *big.Int
	Offset *big.Int
}

// Checkpoint records a holder's balance as of the end of a ledger height.
type Checkpoint struct {
	Height uint64
	Shares *big.Int
	Offset *big.Int
}

// SupplyCheckpoint records the global supply as of the end of a ledger height.
type SupplyCheckpoint struct {
	Height       uint64
	TotalShares  *big.Int
	TotalBacking *big.Int
	TotalOffset  *big.Int
}

func (c SupplyCheckpoint) supply() Supply {
	return Supply{TotalShares: c.TotalShares, TotalBacking: c.TotalBacking, TotalOffset: c.TotalOffset}.normalized()
}

// valueOf computes max(0, shares*rate - offset) at the supplied supply,
// capped at the total backing. Values sum to the backing while every holder
// is above water. After a loss deep enough to floor a boosted holder at zero
// the remaining values can sum to more than the backing; each is still capped
// at what Redeem can pay and redemptions are served in call order.
func valueOf(supply Supply, shares, offset *big.Int) (*big.Int, error) {
	supply = supply.normalized()
	if supply.TotalShares.Sign() == 0 || nativecommon.Copy(shares).Sign() == 0 {
		return big.NewInt(0), nil
	}
	gross, err := nativecommon.MulDiv(shares, supply.grossValue(), supply.TotalShares)
	if err != nil {
		return nil, err
	}
	return nativecommon.Min(nativecommon.SubFloor(gross, offset), supply.TotalBacking), nil
}
