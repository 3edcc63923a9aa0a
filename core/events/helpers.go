package events

import (
	"math/big"
	"strconv"
	"strings"

	"yieldprotocol/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromRaw(addr).String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
