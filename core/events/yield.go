package events

import (
	"math/big"

	"yieldprotocol/core/types"
)

const (
	TypeYieldDistributed = "yield.distributed"
	TypeYieldLoss        = "yield.loss"
	TypeRebalanceOrdered = "yield.rebalance"
	TypeRebalanceSettled = "yield.rebalanceSettled"
)

// YieldDistributed reports a realized gain split between the protocol fee
// reserve and token holders.
type YieldDistributed struct {
	ReportID uint64
	Source   types.AssetClass
	Gross    *big.Int
	Fee      *big.Int
	Net      *big.Int
	Reason   string
}

func (YieldDistributed) EventType() string { return TypeYieldDistributed }

func (e YieldDistributed) Event() *types.Event {
	attrs := map[string]string{
		"reportId": formatUint(e.ReportID),
		"source":   e.Source.String(),
		"gross":    formatAmount(e.Gross),
		"fee":      formatAmount(e.Fee),
		"net":      formatAmount(e.Net),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeYieldDistributed, Attributes: attrs}
}

// YieldLoss reports a socialized loss.
type YieldLoss struct {
	ReportID uint64
	Source   types.AssetClass
	Loss     *big.Int
	Applied  *big.Int
}

func (YieldLoss) EventType() string { return TypeYieldLoss }

func (e YieldLoss) Event() *types.Event {
	return &types.Event{Type: TypeYieldLoss, Attributes: map[string]string{
		"reportId": formatUint(e.ReportID),
		"source":   e.Source.String(),
		"loss":     formatAmount(e.Loss),
		"applied":  formatAmount(e.Applied),
	}}
}

// RebalanceOrdered states how much value must move between vaults so each
// vault's book matches its holders' claims.
type RebalanceOrdered struct {
	OrderID uint64
	From    types.AssetClass
	To      types.AssetClass
	USD     *big.Int
}

func (RebalanceOrdered) EventType() string { return TypeRebalanceOrdered }

func (e RebalanceOrdered) Event() *types.Event {
	return &types.Event{Type: TypeRebalanceOrdered, Attributes: map[string]string{
		"orderId": formatUint(e.OrderID),
		"from":    e.From.String(),
		"to":      e.To.String(),
		"usd":     formatAmount(e.USD),
	}}
}

// RebalanceSettled records the custody movement that fulfilled an order.
type RebalanceSettled struct {
	OrderID  uint64
	Operator [20]byte
	Asset    string
	Units    *big.Int
	USD      *big.Int
}

func (RebalanceSettled) EventType() string { return TypeRebalanceSettled }

func (e RebalanceSettled) Event() *types.Event {
	return &types.Event{Type: TypeRebalanceSettled, Attributes: map[string]string{
		"orderId":  formatUint(e.OrderID),
		"operator": formatAddress(e.Operator),
		"asset":    normalizeAsset(e.Asset),
		"units":    formatAmount(e.Units),
		"usd":      formatAmount(e.USD),
	}}
}
