package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yieldprotocol/native/params"
)

// GenesisSpec describes the initial ledger: the parameter set, the asset
// balances credited to each account and the seed oracle prices.
type GenesisSpec struct {
	GenesisTime string `json:"genesisTime"`
	// Params is a parameter delta merged over the launch defaults.
	Params json.RawMessage `json:"params,omitempty"`
	// Alloc maps account -> asset -> amount in base units.
	Alloc map[string]map[string]Amount `json:"alloc,omitempty"`
	// Prices maps asset -> decimal USD price of one whole unit.
	Prices map[string]string `json:"prices,omitempty"`

	genesisTimestamp time.Time
	params           params.ProtocolParams
	allocations      []Allocation
	prices           []Price
}

// Amount is a base-unit integer written either as a JSON string or a number.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("amount must be a string or integer: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Allocation is one validated genesis balance.
type Allocation struct {
	Account [20]byte
	Asset   string
	Amount  *big.Int
}

// Price is one validated seed quote.
type Price struct {
	Asset string
	Rate  string
}

// LoadGenesisSpec reads a JSON or YAML genesis file. YAML is selected by the
// .yaml or .yml extension.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document. Unknown
// fields are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// GenesisTimestamp returns the parsed genesis time.
func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// ProtocolParams returns the validated parameter set at version 1.
func (s *GenesisSpec) ProtocolParams() params.ProtocolParams { return s.params.Clone() }

// Allocations returns the balances sorted by account then asset.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, a := range s.allocations {
		out[i] = Allocation{Account: a.Account, Asset: a.Asset, Amount: new(big.Int).Set(a.Amount)}
	}
	return out
}

// SeedPrices returns the oracle quotes sorted by asset.
func (s *GenesisSpec) SeedPrices() []Price {
	return append([]Price(nil), s.prices...)
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	p, err := mergeParams(s.Params)
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}
	s.params = p

	allocs, err := validateAlloc(s.Alloc, p)
	if err != nil {
		return err
	}
	s.allocations = allocs

	prices, err := validatePrices(s.Prices, p)
	if err != nil {
		return err
	}
	s.prices = prices
	return nil
}

func mergeParams(delta json.RawMessage) (params.ProtocolParams, error) {
	base := params.Default()
	trimmed := bytes.TrimSpace(delta)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if err := base.Validate(); err != nil {
			return params.ProtocolParams{}, err
		}
		return base, nil
	}
	merged, err := params.Preflight(base, trimmed)
	if err != nil {
		return params.ProtocolParams{}, err
	}
	merged.Version = 1
	return merged, nil
}

func validateAlloc(alloc map[string]map[string]Amount, p params.ProtocolParams) ([]Allocation, error) {
	out := make([]Allocation, 0)
	for account, assets := range alloc {
		addr, err := parseAccount(account)
		if err != nil {
			return nil, fmt.Errorf("alloc[%q]: %w", account, err)
		}
		seen := make(map[string]struct{}, len(assets))
		for asset, amount := range assets {
			symbol := params.NormalizeAsset(asset)
			if !knownAsset(p, symbol) {
				return nil, fmt.Errorf("alloc[%q][%q]: asset not accepted by any vault", account, asset)
			}
			if _, dup := seen[symbol]; dup {
				return nil, fmt.Errorf("alloc[%q]: duplicate asset %q", account, asset)
			}
			seen[symbol] = struct{}{}
			value, err := parseAmountString(string(amount))
			if err != nil {
				return nil, fmt.Errorf("alloc[%q][%q]: %w", account, asset, err)
			}
			if value.Sign() == 0 {
				continue
			}
			out = append(out, Allocation{Account: addr, Asset: symbol, Amount: value})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Account[:], out[j].Account[:]); c != 0 {
			return c < 0
		}
		return out[i].Asset < out[j].Asset
	})
	for i := 1; i < len(out); i++ {
		if out[i].Account == out[i-1].Account && out[i].Asset == out[i-1].Asset {
			return nil, fmt.Errorf("alloc: account listed twice for %s", out[i].Asset)
		}
	}
	return out, nil
}

func validatePrices(prices map[string]string, p params.ProtocolParams) ([]Price, error) {
	out := make([]Price, 0, len(prices))
	for asset, rate := range prices {
		symbol := params.NormalizeAsset(asset)
		if !p.IsCommodityAsset(symbol) {
			return nil, fmt.Errorf("prices[%q]: not a commodity asset", asset)
		}
		r, ok := new(big.Rat).SetString(strings.TrimSpace(rate))
		if !ok || r.Sign() <= 0 {
			return nil, fmt.Errorf("prices[%q]: invalid rate %q", asset, rate)
		}
		out = append(out, Price{Asset: symbol, Rate: strings.TrimSpace(rate)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func knownAsset(p params.ProtocolParams, symbol string) bool {
	return symbol == params.NormalizeAsset(p.StableAsset) || p.IsCommodityAsset(symbol)
}

func parseGenesisTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return ts.UTC(), nil
}

func parseAmountString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
