package vault

import (
	"math/big"

	"yieldprotocol/core/types"
	"yieldprotocol/crypto"
	nativecommon "yieldprotocol/native/common"
)

// PositionStatus tracks the lifecycle of a deposit.
type PositionStatus uint8

const (
	PositionActive PositionStatus = iota + 1
	PositionWithdrawn
	PositionEmergencyWithdrawn
)

func (s PositionStatus) String() string {
	switch s {
	case PositionActive:
		return "active"
	case PositionWithdrawn:
		return "withdrawn"
	case PositionEmergencyWithdrawn:
		return "emergency_withdrawn"
	default:
		return "unknown"
	}
}

// Terminal reports whether the position can no longer be withdrawn.
func (s PositionStatus) Terminal() bool {
	return s == PositionWithdrawn || s == PositionEmergencyWithdrawn
}

// Position is a single time-locked deposit. Shares and Offset are what the
// token ledger credited the owner for this deposit.
type Position struct {
	ID            uint64
	Owner         [20]byte
	Class         types.AssetClass
	Asset         string
	AssetUnits    *big.Int
	Principal     *big.Int
	LockPeriod    types.LockPeriod
	MultiplierBps uint64
	StartTime     uint64
	UnlockTime    uint64
	Shares        *big.Int
	Offset        *big.Int
	Status        PositionStatus
	ClosedAt      uint64
	PaidUSD       *big.Int
	Penalty       *big.Int
}

func (p *Position) ensureDefaults() {
	if p == nil {
		return
	}
	p.AssetUnits = nativecommon.Copy(p.AssetUnits)
	p.Principal = nativecommon.Copy(p.Principal)
	p.Shares = nativecommon.Copy(p.Shares)
	p.Offset = nativecommon.Copy(p.Offset)
	p.PaidUSD = nativecommon.Copy(p.PaidUSD)
	p.Penalty = nativecommon.Copy(p.Penalty)
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.ensureDefaults()
	return &out
}

// Book is the USD-denominated ledger of one vault. Liquidity is value held in
// custody and free to lend or pay out, Lent is value drawn by active loans and
// Reserve is the protocol fee claim held in the same custody.
type Book struct {
	Class     types.AssetClass
	Liquidity *big.Int
	Lent      *big.Int
	Reserve   *big.Int
	Shares    *big.Int
	Offset    *big.Int
	Principal *big.Int
	Positions uint64
}

func newBook(class types.AssetClass) *Book {
	b := &Book{Class: class}
	b.ensureDefaults()
	return b
}

func (b *Book) ensureDefaults() {
	b.Liquidity = nativecommon.Copy(b.Liquidity)
	b.Lent = nativecommon.Copy(b.Lent)
	b.Reserve = nativecommon.Copy(b.Reserve)
	b.Shares = nativecommon.Copy(b.Shares)
	b.Offset = nativecommon.Copy(b.Offset)
	b.Principal = nativecommon.Copy(b.Principal)
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	out := *b
	out.ensureDefaults()
	return &out
}

// Assets returns the value the vault's depositors have a claim on.
func (b *Book) Assets() *big.Int {
	return new(big.Int).Add(nativecommon.Copy(b.Liquidity), nativecommon.Copy(b.Lent))
}

// CustodyAddress returns the module account holding a vault's assets.
func CustodyAddress(class types.AssetClass) [20]byte {
	switch class {
	case types.AssetClassCommodity:
		return crypto.ModuleAddress("vault/commodity")
	default:
		return crypto.ModuleAddress("vault/stable")
	}
}
