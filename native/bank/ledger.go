package bank

import (
	"fmt"
	"math/big"
	"strings"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
)

// storage abstracts the subset of state manager functionality required by the
// asset ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	balancePrefix = []byte("bank/balance/")
	supplyPrefix  = []byte("bank/supply/")
	assetListKey  = []byte("bank/assets")
)

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func balanceKey(asset string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%x", balancePrefix, normalizeAsset(asset), addr))
}

func supplyKey(asset string) []byte {
	return append(append([]byte(nil), supplyPrefix...), normalizeAsset(asset)...)
}

// Ledger holds per-asset account balances. Every movement happens inside the
// caller's state snapshot, so a failed operation leaves balances untouched.
type Ledger struct {
	store   storage
	emitter events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink. Nil resets to a no-op emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) withStore() (storage, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: storage unavailable")
	}
	return l.store, nil
}

// Balance returns the amount of asset held by addr.
func (l *Ledger) Balance(addr [20]byte, asset string) (*big.Int, error) {
	store, err := l.withStore()
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if _, err := store.KVGet(balanceKey(asset, addr), balance); err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) setBalance(store storage, addr [20]byte, asset string, amount *big.Int) error {
	if err := store.KVPut(balanceKey(asset, addr), amount); err != nil {
		return fmt.Errorf("bank: persist balance: %w", err)
	}
	return nil
}

// Supply returns the total issued amount of asset.
func (l *Ledger) Supply(asset string) (*big.Int, error) {
	store, err := l.withStore()
	if err != nil {
		return nil, err
	}
	supply := new(big.Int)
	if _, err := store.KVGet(supplyKey(asset), supply); err != nil {
		return nil, fmt.Errorf("bank: load supply: %w", err)
	}
	return supply, nil
}

// Assets lists every asset that has ever been issued.
func (l *Ledger) Assets() ([]string, error) {
	store, err := l.withStore()
	if err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := store.KVGetList(assetListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, entry := range raw {
		out[i] = string(entry)
	}
	return out, nil
}

// Issue credits freshly created units to addr. Issuance is reserved for
// genesis allocations and operator bridges.
func (l *Ledger) Issue(to [20]byte, asset string, amount *big.Int) error {
	store, err := l.withStore()
	if err != nil {
		return err
	}
	symbol := normalizeAsset(asset)
	if symbol == "" {
		return coreerrors.Wrap(coreerrors.ErrUnsupportedAsset, "asset symbol required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	balance, err := l.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := l.setBalance(store, to, symbol, balance.Add(balance, amount)); err != nil {
		return err
	}
	supply, err := l.Supply(symbol)
	if err != nil {
		return err
	}
	if err := store.KVPut(supplyKey(symbol), supply.Add(supply, amount)); err != nil {
		return fmt.Errorf("bank: persist supply: %w", err)
	}
	if err := store.KVAppend(assetListKey, []byte(symbol)); err != nil {
		return fmt.Errorf("bank: update asset index: %w", err)
	}
	l.emitter.Emit(events.Issue{Asset: symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(from, to [20]byte, asset string, amount *big.Int, reason string) error {
	store, err := l.withStore()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	symbol := normalizeAsset(asset)
	source, err := l.Balance(from, symbol)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "%s balance %s below %s", symbol, source, amount)
	}
	if from == to {
		return nil
	}
	if err := l.setBalance(store, from, symbol, source.Sub(source, amount)); err != nil {
		return err
	}
	dest, err := l.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := l.setBalance(store, to, symbol, dest.Add(dest, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: symbol, From: from, To: to, Amount: new(big.Int).Set(amount), Reason: reason})
	return nil
}
