package events

import (
	"math/big"
	"strconv"

	"yieldprotocol/core/types"
)

const (
	TypeVaultDeposit  = "vault.deposit"
	TypeVaultWithdraw = "vault.withdraw"
	TypeVaultTransfer = "vault.transfer"
)

// VaultDeposit is emitted when a locked position is opened.
type VaultDeposit struct {
	PositionID uint64
	Owner      [20]byte
	Class      types.AssetClass
	Asset      string
	Units      *big.Int
	USD        *big.Int
	Lock       types.LockPeriod
	Shares     *big.Int
	UnlockTime int64
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	return &types.Event{Type: TypeVaultDeposit, Attributes: map[string]string{
		"positionId": formatUint(e.PositionID),
		"owner":      formatAddress(e.Owner),
		"vault":      e.Class.String(),
		"asset":      normalizeAsset(e.Asset),
		"units":      formatAmount(e.Units),
		"usd":        formatAmount(e.USD),
		"lock":       e.Lock.String(),
		"shares":     formatAmount(e.Shares),
		"unlockTime": strconv.FormatInt(e.UnlockTime, 10),
	}}
}

// VaultWithdraw is emitted when a position is closed, normally or early.
type VaultWithdraw struct {
	PositionID uint64
	Owner      [20]byte
	Class      types.AssetClass
	Asset      string
	USD        *big.Int
	Units      *big.Int
	Penalty    *big.Int
	Emergency  bool
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	attrs := map[string]string{
		"positionId": formatUint(e.PositionID),
		"owner":      formatAddress(e.Owner),
		"vault":      e.Class.String(),
		"asset":      normalizeAsset(e.Asset),
		"usd":        formatAmount(e.USD),
		"units":      formatAmount(e.Units),
		"emergency":  strconv.FormatBool(e.Emergency),
	}
	if e.Penalty != nil && e.Penalty.Sign() > 0 {
		attrs["penalty"] = e.Penalty.String()
	}
	return &types.Event{Type: TypeVaultWithdraw, Attributes: attrs}
}

// VaultTransfer is emitted when a position changes owner.
type VaultTransfer struct {
	PositionID uint64
	From       [20]byte
	To         [20]byte
	Shares     *big.Int
}

func (VaultTransfer) EventType() string { return TypeVaultTransfer }

func (e VaultTransfer) Event() *types.Event {
	return &types.Event{Type: TypeVaultTransfer, Attributes: map[string]string{
		"positionId": formatUint(e.PositionID),
		"from":       formatAddress(e.From),
		"to":         formatAddress(e.To),
		"shares":     formatAmount(e.Shares),
	}}
}
