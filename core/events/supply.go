package events

import (
	"math/big"
	"strings"

	"yieldprotocol/core/types"
)

const (
	// TypeTokenSupply is emitted whenever yield or a loss rebases the token.
	TypeTokenSupply = "token.supply"
	// TypeTokenMint is emitted when shares are created against a deposit.
	TypeTokenMint = "token.mint"
	// TypeTokenBurn is emitted when shares are destroyed on withdrawal.
	TypeTokenBurn = "token.burn"
	// TypeTokenTransfer is emitted when shares move between holders.
	TypeTokenTransfer = "token.transfer"

	// SupplyReasonYield identifies backing increases.
	SupplyReasonYield = "yield"
	// SupplyReasonLoss identifies backing decreases.
	SupplyReasonLoss = "loss"
)

// TokenSupply captures a backing delta for the rebasing token.
type TokenSupply struct {
	TotalBacking *big.Int
	TotalShares  *big.Int
	Delta        *big.Int
	RateRay      *big.Int
	Reason       string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{}
	attrs["totalBacking"] = formatAmount(e.TotalBacking)
	attrs["totalShares"] = formatAmount(e.TotalShares)
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if e.RateRay != nil {
		attrs["rateRay"] = e.RateRay.String()
	}
	reason := strings.TrimSpace(e.Reason)
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}

// TokenMint records shares issued to a holder.
type TokenMint struct {
	Holder        [20]byte
	USD           *big.Int
	Shares        *big.Int
	Offset        *big.Int
	MultiplierBps uint64
}

func (TokenMint) EventType() string { return TypeTokenMint }

func (e TokenMint) Event() *types.Event {
	return &types.Event{Type: TypeTokenMint, Attributes: map[string]string{
		"holder":        formatAddress(e.Holder),
		"usd":           formatAmount(e.USD),
		"shares":        formatAmount(e.Shares),
		"offset":        formatAmount(e.Offset),
		"multiplierBps": formatUint(e.MultiplierBps),
	}}
}

// TokenBurn records shares redeemed by a holder.
type TokenBurn struct {
	Holder [20]byte
	Shares *big.Int
	USD    *big.Int
}

func (TokenBurn) EventType() string { return TypeTokenBurn }

func (e TokenBurn) Event() *types.Event {
	return &types.Event{Type: TypeTokenBurn, Attributes: map[string]string{
		"holder": formatAddress(e.Holder),
		"shares": formatAmount(e.Shares),
		"usd":    formatAmount(e.USD),
	}}
}

// TokenTransfer records a share movement between holders.
type TokenTransfer struct {
	From   [20]byte
	To     [20]byte
	Shares *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{Type: TypeTokenTransfer, Attributes: map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"shares": formatAmount(e.Shares),
	}}
}
