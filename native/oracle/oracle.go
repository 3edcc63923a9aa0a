package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	coreerrors "yieldprotocol/core/errors"
	nativecommon "yieldprotocol/native/common"
)

// QuoteUSD is the quote currency every vault valuation uses.
const QuoteUSD = "USD"

// PriceQuote captures an exchange rate for a specific currency pair along with the
// timestamp reported by the upstream oracle and the oracle identifier.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// PriceOracle returns the latest quote for base priced in quote.
type PriceOracle interface {
	GetRate(base, quote string) (PriceQuote, error)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Guard turns raw oracle quotes into micro-USD prices and rejects quotes that
// are missing, non-positive or older than the configured age.
type Guard struct {
	source PriceOracle
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewGuard wraps source with a freshness check.
func NewGuard(source PriceOracle, maxAge time.Duration) *Guard {
	return &Guard{source: source, maxAge: maxAge, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetNowFunc overrides the clock used for staleness checks.
func (g *Guard) SetNowFunc(now func() time.Time) {
	if g == nil {
		return
	}
	if now == nil {
		g.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	g.nowFn = now
}

// SetMaxAge updates the freshness window.
func (g *Guard) SetMaxAge(maxAge time.Duration) {
	if g == nil {
		return
	}
	g.maxAge = maxAge
}

// PriceUSD returns the micro-USD price of one whole unit of asset.
func (g *Guard) PriceUSD(asset string) (*big.Int, error) {
	if g == nil || g.source == nil {
		return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "no oracle configured")
	}
	symbol := normaliseSymbol(asset)
	quote, err := g.source.GetRate(symbol, QuoteUSD)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "%s: %v", symbol, err)
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "%s: non-positive rate", symbol)
	}
	if g.maxAge > 0 {
		age := g.nowFn().Sub(quote.Timestamp)
		if quote.Timestamp.IsZero() || age > g.maxAge {
			return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "%s: quote age %s exceeds %s", symbol, age, g.maxAge)
		}
	}
	scaled := new(big.Rat).Mul(quote.Rate, new(big.Rat).SetInt(nativecommon.MicroUnit))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if price.Sign() <= 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrOracleUnavailable, "%s: rate below one micro-dollar", symbol)
	}
	return price, nil
}

// ManualOracle provides an in-memory oracle implementation fed by operators
// and used in tests.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

func manualKey(base, quote string) string {
	return normaliseSymbol(base) + "_" + normaliseSymbol(quote)
}

// SetDecimal records the supplied decimal rate for the currency pair using the
// provided timestamp.
func (m *ManualOracle) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// Set records a rate for the pair.
func (m *ManualOracle) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[manualKey(base, quote)] = PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// GetRate implements PriceOracle.
func (m *ManualOracle) GetRate(base, quote string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[manualKey(base, quote)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("manual oracle: no quote for %s/%s", normaliseSymbol(base), normaliseSymbol(quote))
	}
	return q.Clone(), nil
}

// Snapshot returns every stored quote keyed by BASE/QUOTE.
func (m *ManualOracle) Snapshot() map[string]PriceQuote {
	out := make(map[string]PriceQuote)
	if m == nil {
		return out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, q := range m.quotes {
		out[strings.Replace(key, "_", "/", 1)] = q.Clone()
	}
	return out
}
