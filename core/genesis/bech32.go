package genesis

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"

	"yieldprotocol/crypto"
)

// ParseBech32Account decodes a yld-prefixed bech32 account.
func ParseBech32Account(addr string) ([20]byte, error) {
	var out [20]byte
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if hrp != string(crypto.YLDPrefix) {
		return out, fmt.Errorf("decode bech32 account: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("decode bech32 account: invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// parseAccount accepts a bech32 account or a 0x hex address.
func parseAccount(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return crypto.ParseAddress(trimmed)
	}
	return ParseBech32Account(trimmed)
}
