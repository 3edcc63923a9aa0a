package events

import (
	"math/big"
	"strings"

	"yieldprotocol/core/types"
)

const (
	// TypeTransfer is emitted for every asset balance movement.
	TypeTransfer = "bank.transfer"
	// TypeIssue is emitted when genesis or an operator credits fresh units.
	TypeIssue = "bank.issue"
)

type Transfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	Reason string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = formatAddress(e.From)
	attrs["to"] = formatAddress(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Issue struct {
	Asset  string
	To     [20]byte
	Amount *big.Int
}

func (Issue) EventType() string { return TypeIssue }

func (e Issue) Event() *types.Event {
	return &types.Event{Type: TypeIssue, Attributes: map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}
