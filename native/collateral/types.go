package collateral

import (
	"math/big"

	nativecommon "yieldprotocol/native/common"
)

// Status is the collateral lifecycle state.
type Status uint8

const (
	StatusRegistered Status = iota + 1
	StatusLocked
	StatusLiquidating
	StatusLiquidated
	StatusReleased
	// StatusReserved holds a lot for a loan awaiting committee approval.
	StatusReserved
	// StatusExpired lots were withdrawn by the valuation authority before
	// ever being pledged.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusLocked:
		return "locked"
	case StatusLiquidating:
		return "liquidating"
	case StatusLiquidated:
		return "liquidated"
	case StatusReleased:
		return "released"
	case StatusReserved:
		return "reserved"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the record can change again.
func (s Status) Terminal() bool {
	return s == StatusLiquidated || s == StatusReleased || s == StatusExpired
}

const (
	MinGrade = 1
	MaxGrade = 100
)

// Metadata describes the physical lot backing a record.
type Metadata struct {
	Batch       string
	QuantityKg  uint64
	Origin      string
	HarvestDate uint64
}

// Record is a tokenized commodity lot pledged or pledgeable against a loan.
// The loan it backs is found through the registry's loan index, never through
// a pointer held by the loan.
type Record struct {
	ID            uint64
	Owner         [20]byte
	DeclaredValue *big.Int
	Grade         uint64
	Status        Status
	LoanID        uint64
	Meta          Metadata
	RegisteredAt  uint64
	UpdatedAt     uint64
	Recovered     *big.Int
}

func (r *Record) ensureDefaults() {
	r.DeclaredValue = nativecommon.Copy(r.DeclaredValue)
	r.Recovered = nativecommon.Copy(r.Recovered)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.ensureDefaults()
	return &out
}
