package types

import (
	"fmt"
	"strings"
	"time"
)

// Day is the unit lock durations are expressed in.
const Day = 24 * time.Hour

// LockPeriod identifies one of the supported deposit lock tiers.
type LockPeriod uint8

const (
	LockPeriodUnknown LockPeriod = iota
	LockThreeMonths
	LockSixMonths
	LockTwelveMonths
)

// LockPeriods lists the tiers in ascending duration.
var LockPeriods = []LockPeriod{LockThreeMonths, LockSixMonths, LockTwelveMonths}

// Valid reports whether the lock period is one of the supported tiers.
func (l LockPeriod) Valid() bool {
	return l >= LockThreeMonths && l <= LockTwelveMonths
}

// Duration returns the wall-clock lock length. Unknown tiers return zero.
func (l LockPeriod) Duration() time.Duration {
	switch l {
	case LockThreeMonths:
		return 90 * Day
	case LockSixMonths:
		return 180 * Day
	case LockTwelveMonths:
		return 365 * Day
	default:
		return 0
	}
}

func (l LockPeriod) String() string {
	switch l {
	case LockThreeMonths:
		return "3m"
	case LockSixMonths:
		return "6m"
	case LockTwelveMonths:
		return "12m"
	default:
		return "unknown"
	}
}

// ParseLockPeriod accepts "3m", "6m", "12m" or their month counts.
func ParseLockPeriod(raw string) (LockPeriod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "3m", "3", "three_months":
		return LockThreeMonths, nil
	case "6m", "6", "six_months":
		return LockSixMonths, nil
	case "12m", "12", "twelve_months":
		return LockTwelveMonths, nil
	default:
		return LockPeriodUnknown, fmt.Errorf("unknown lock period %q", raw)
	}
}

// AssetClass distinguishes the vault variants.
type AssetClass uint8

const (
	AssetClassUnknown AssetClass = iota
	// AssetClassStable holds a dollar stablecoin valued 1:1.
	AssetClassStable
	// AssetClassCommodity holds tokenized commodities valued through the
	// price oracle.
	AssetClassCommodity
)

// AssetClasses lists every vault variant.
var AssetClasses = []AssetClass{AssetClassStable, AssetClassCommodity}

func (c AssetClass) Valid() bool {
	return c == AssetClassStable || c == AssetClassCommodity
}

func (c AssetClass) String() string {
	switch c {
	case AssetClassStable:
		return "stable"
	case AssetClassCommodity:
		return "commodity"
	default:
		return "unknown"
	}
}

// ParseAssetClass maps a config string onto a vault variant.
func ParseAssetClass(raw string) (AssetClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stable":
		return AssetClassStable, nil
	case "commodity":
		return AssetClassCommodity, nil
	default:
		return AssetClassUnknown, fmt.Errorf("unknown asset class %q", raw)
	}
}
