package yield

import (
	"math/big"

	"yieldprotocol/core/types"
	nativecommon "yieldprotocol/native/common"
)

// ReportKind distinguishes the sources of a backing change.
type ReportKind uint8

const (
	ReportRealized ReportKind = iota + 1
	ReportPenalty
	ReportLoss
)

func (k ReportKind) String() string {
	switch k {
	case ReportRealized:
		return "realized"
	case ReportPenalty:
		return "penalty"
	case ReportLoss:
		return "loss"
	default:
		return "unknown"
	}
}

// Report is the append-only record of one distribution. For losses Gross is
// the reported loss and Net the part the backing could absorb.
type Report struct {
	ID        uint64
	Kind      ReportKind
	Source    types.AssetClass
	Gross     *big.Int
	Fee       *big.Int
	Net       *big.Int
	Timestamp uint64
}

func (r *Report) ensureDefaults() {
	r.Gross = nativecommon.Copy(r.Gross)
	r.Fee = nativecommon.Copy(r.Fee)
	r.Net = nativecommon.Copy(r.Net)
}

// Totals accumulates every report.
type Totals struct {
	Gross  *big.Int
	Fees   *big.Int
	Net    *big.Int
	Losses *big.Int
}

func (t *Totals) ensureDefaults() {
	t.Gross = nativecommon.Copy(t.Gross)
	t.Fees = nativecommon.Copy(t.Fees)
	t.Net = nativecommon.Copy(t.Net)
	t.Losses = nativecommon.Copy(t.Losses)
}

// OrderStatus tracks whether custody has caught up with a book rebalance.
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota + 1
	OrderSettled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// RebalanceOrder states how much value the books moved between vaults and
// therefore how much custody must follow. How the assets are traded is left
// to the treasury operator.
type RebalanceOrder struct {
	ID        uint64
	ReportID  uint64
	From      types.AssetClass
	To        types.AssetClass
	USD       *big.Int
	Status    OrderStatus
	CreatedAt uint64
	SettledAt uint64
	Operator  [20]byte
}

func (o *RebalanceOrder) ensureDefaults() {
	o.USD = nativecommon.Copy(o.USD)
}
