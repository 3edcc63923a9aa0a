package params

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/types"
	"yieldprotocol/crypto"
)

// ProtocolParams is the governance-controlled configuration every engine reads
// at the start of a call. Only genesis and executed parameter proposals write
// it, and every write bumps Version.
type ProtocolParams struct {
	Version uint64 `json:"version"`

	Multiplier3mBps  uint64 `json:"multiplier3mBps"`
	Multiplier6mBps  uint64 `json:"multiplier6mBps"`
	Multiplier12mBps uint64 `json:"multiplier12mBps"`

	ProtocolFeeBps        uint64 `json:"protocolFeeBps"`
	EmergencyPenaltyBps   uint64 `json:"emergencyPenaltyBps"`
	MinCollateralRatioBps uint64 `json:"minCollateralRatioBps"`
	LiquidationRatioBps   uint64 `json:"liquidationRatioBps"`

	Committee                 []string `json:"committee"`
	CommitteeQuorum           uint64   `json:"committeeQuorum"`
	CommitteeVotingPeriodSecs uint64   `json:"committeeVotingPeriodSecs"`
	DAOQuorumBps              uint64   `json:"daoQuorumBps"`
	DAOVotingPeriodSecs       uint64   `json:"daoVotingPeriodSecs"`
	MinProposalUSD            *big.Int `json:"minProposalUsd"`
	DefaultLoanInterestBps    uint64   `json:"defaultLoanInterestBps"`
	DefaultLoanDurationSecs   uint64   `json:"defaultLoanDurationSecs"`
	LoanGracePeriodSecs       uint64   `json:"loanGracePeriodSecs"`
	OracleMaxAgeSecs          uint64   `json:"oracleMaxAgeSecs"`
	StableAsset               string   `json:"stableAsset"`
	CommodityAssets           []string `json:"commodityAssets"`
	LiquidatorAuthority       string   `json:"liquidatorAuthority,omitempty"`
	ValuationAuthority        string   `json:"valuationAuthority,omitempty"`
	TreasuryAuthority         string   `json:"treasuryAuthority,omitempty"`

	Pauses map[string]bool `json:"pauses,omitempty"`
}

// Default returns the launch parameter set. The committee is left empty and
// must be supplied by genesis.
func Default() ProtocolParams {
	return ProtocolParams{
		Version:                   1,
		Multiplier3mBps:           10_000,
		Multiplier6mBps:           15_000,
		Multiplier12mBps:          20_000,
		ProtocolFeeBps:            2_000,
		EmergencyPenaltyBps:       1_000,
		MinCollateralRatioBps:     15_000,
		LiquidationRatioBps:       12_000,
		CommitteeQuorum:           3,
		CommitteeVotingPeriodSecs: uint64((3 * types.Day).Seconds()),
		DAOQuorumBps:              5_000,
		DAOVotingPeriodSecs:       uint64((7 * types.Day).Seconds()),
		MinProposalUSD:            big.NewInt(1_000_000_000),
		DefaultLoanInterestBps:    800,
		DefaultLoanDurationSecs:   uint64((180 * types.Day).Seconds()),
		LoanGracePeriodSecs:       uint64((30 * types.Day).Seconds()),
		OracleMaxAgeSecs:          uint64(time.Hour.Seconds()),
		StableAsset:               "USDC",
		CommodityAssets:           []string{"PAXG", "WTGOLD"},
	}
}

// Clone returns a deep copy.
func (p ProtocolParams) Clone() ProtocolParams {
	out := p
	if p.MinProposalUSD != nil {
		out.MinProposalUSD = new(big.Int).Set(p.MinProposalUSD)
	}
	out.Committee = append([]string(nil), p.Committee...)
	out.CommodityAssets = append([]string(nil), p.CommodityAssets...)
	if p.Pauses != nil {
		out.Pauses = make(map[string]bool, len(p.Pauses))
		for k, v := range p.Pauses {
			out.Pauses[k] = v
		}
	}
	return out
}

// MultiplierBps returns the share multiplier for a lock tier.
func (p ProtocolParams) MultiplierBps(period types.LockPeriod) (uint64, error) {
	switch period {
	case types.LockThreeMonths:
		return p.Multiplier3mBps, nil
	case types.LockSixMonths:
		return p.Multiplier6mBps, nil
	case types.LockTwelveMonths:
		return p.Multiplier12mBps, nil
	default:
		return 0, coreerrors.Wrap(coreerrors.ErrUnknownLockPeriod, "%d", uint8(period))
	}
}

// IsPaused implements common.PauseView.
func (p ProtocolParams) IsPaused(module string) bool {
	if p.Pauses == nil {
		return false
	}
	return p.Pauses[strings.ToLower(strings.TrimSpace(module))]
}

// CommitteeMembers decodes the committee addresses.
func (p ProtocolParams) CommitteeMembers() ([][20]byte, error) {
	members := make([][20]byte, 0, len(p.Committee))
	for _, raw := range p.Committee {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("committee member %q: %w", raw, err)
		}
		members = append(members, addr)
	}
	return members, nil
}

// IsCommodityAsset reports whether the commodity vault accepts the asset.
func (p ProtocolParams) IsCommodityAsset(asset string) bool {
	normalized := NormalizeAsset(asset)
	for _, candidate := range p.CommodityAssets {
		if NormalizeAsset(candidate) == normalized {
			return true
		}
	}
	return false
}

// Authority decodes one of the configured role addresses. An empty value
// yields ok=false.
func Authority(raw string) ([20]byte, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, false, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, false, err
	}
	return addr, true, nil
}

// NormalizeAsset canonicalises asset symbols.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func invalid(format string, args ...interface{}) error {
	return coreerrors.Wrap(coreerrors.ErrInvalidParams, format, args...)
}

// Validate checks every invariant the engines rely on.
func (p ProtocolParams) Validate() error {
	if p.Multiplier3mBps < 10_000 {
		return invalid("multiplier3mBps must be at least 10000")
	}
	if p.Multiplier6mBps < p.Multiplier3mBps || p.Multiplier12mBps < p.Multiplier6mBps {
		return invalid("lock multipliers must be non-decreasing with lock length")
	}
	if p.ProtocolFeeBps > 10_000 {
		return invalid("protocolFeeBps must not exceed 10000")
	}
	if p.EmergencyPenaltyBps > 10_000 {
		return invalid("emergencyPenaltyBps must not exceed 10000")
	}
	if p.MinCollateralRatioBps < 10_000 {
		return invalid("minCollateralRatioBps must be at least 10000")
	}
	if p.LiquidationRatioBps < 10_000 || p.LiquidationRatioBps > p.MinCollateralRatioBps {
		return invalid("liquidationRatioBps must be within [10000, minCollateralRatioBps]")
	}
	members, err := p.CommitteeMembers()
	if err != nil {
		return invalid("%v", err)
	}
	if len(members) == 0 {
		return invalid("committee must not be empty")
	}
	seen := make(map[[20]byte]struct{}, len(members))
	for _, member := range members {
		if _, dup := seen[member]; dup {
			return invalid("duplicate committee member %x", member)
		}
		seen[member] = struct{}{}
	}
	if p.CommitteeQuorum == 0 || p.CommitteeQuorum > uint64(len(members)) {
		return invalid("committeeQuorum must be within [1, %d]", len(members))
	}
	if p.DAOQuorumBps == 0 || p.DAOQuorumBps > 10_000 {
		return invalid("daoQuorumBps must be within [1, 10000]")
	}
	if p.CommitteeVotingPeriodSecs == 0 || p.DAOVotingPeriodSecs == 0 {
		return invalid("voting periods must be positive")
	}
	if p.MinProposalUSD != nil && p.MinProposalUSD.Sign() < 0 {
		return invalid("minProposalUsd must not be negative")
	}
	if p.DefaultLoanInterestBps > 10_000 {
		return invalid("defaultLoanInterestBps must not exceed 10000")
	}
	if p.DefaultLoanDurationSecs == 0 {
		return invalid("defaultLoanDurationSecs must be positive")
	}
	if p.OracleMaxAgeSecs == 0 {
		return invalid("oracleMaxAgeSecs must be positive")
	}
	stable := NormalizeAsset(p.StableAsset)
	if stable == "" {
		return invalid("stableAsset required")
	}
	if len(p.CommodityAssets) == 0 {
		return invalid("at least one commodity asset required")
	}
	assets := map[string]struct{}{stable: {}}
	for _, asset := range p.CommodityAssets {
		normalized := NormalizeAsset(asset)
		if normalized == "" {
			return invalid("empty commodity asset")
		}
		if _, dup := assets[normalized]; dup {
			return invalid("asset %s listed twice", normalized)
		}
		assets[normalized] = struct{}{}
	}
	for name, raw := range map[string]string{
		"liquidatorAuthority": p.LiquidatorAuthority,
		"valuationAuthority":  p.ValuationAuthority,
		"treasuryAuthority":   p.TreasuryAuthority,
	} {
		if _, _, err := Authority(raw); err != nil {
			return invalid("%s: %v", name, err)
		}
	}
	return nil
}
