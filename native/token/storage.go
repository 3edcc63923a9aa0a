package token

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
)

// storage abstracts the subset of state manager functionality required by the
// token ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	ListSet(key []byte, index uint64, value interface{}) error
}

var (
	supplyKey           = []byte("token/supply")
	holderIndexKey      = []byte("token/holders")
	supplyCheckpointKey = []byte("token/checkpoint/supply")
	holderPrefix        = "token/holder/"
	holderCheckpointPre = "token/checkpoint/holder/"
)

func holderKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", holderPrefix, addr))
}

func holderCheckpointKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", holderCheckpointPre, addr))
}

func (e *Engine) loadSupply() (Supply, error) {
	var stored Supply
	if _, err := e.store.KVGet(supplyKey, &stored); err != nil {
		return Supply{}, fmt.Errorf("token: load supply: %w", err)
	}
	return stored.normalized(), nil
}

func (e *Engine) putSupply(s Supply) error {
	s = s.normalized()
	if err := e.store.KVPut(supplyKey, s); err != nil {
		return fmt.Errorf("token: persist supply: %w", err)
	}
	cp := SupplyCheckpoint{
		Height:       e.height(),
		TotalShares:  s.TotalShares,
		TotalBacking: s.TotalBacking,
		TotalOffset:  s.TotalOffset,
	}
	if err := e.checkpoint(supplyCheckpointKey, cp.Height, cp); err != nil {
		return fmt.Errorf("token: persist supply checkpoint: %w", err)
	}
	return nil
}

func (e *Engine) loadHolding(addr [20]byte) (Holding, error) {
	var stored Holding
	if _, err := e.store.KVGet(holderKey(addr), &stored); err != nil {
		return Holding{}, fmt.Errorf("token: load holding: %w", err)
	}
	return stored.normalized(), nil
}

func (e *Engine) putHolding(addr [20]byte, h Holding) error {
	h = h.normalized()
	known, err := e.store.KVGet(holderKey(addr), nil)
	if err != nil {
		return fmt.Errorf("token: load holding: %w", err)
	}
	if err := e.store.KVPut(holderKey(addr), h); err != nil {
		return fmt.Errorf("token: persist holding: %w", err)
	}
	if !known {
		if _, err := e.store.ListAppend(holderIndexKey, addr); err != nil {
			return fmt.Errorf("token: update holder index: %w", err)
		}
	}
	cp := Checkpoint{Height: e.height(), Shares: h.Shares, Offset: h.Offset}
	if err := e.checkpoint(holderCheckpointKey(addr), cp.Height, cp); err != nil {
		return fmt.Errorf("token: persist checkpoint: %w", err)
	}
	return nil
}

// checkpoint records cp as the state at height, replacing the last entry when
// it was written at the same height.
func (e *Engine) checkpoint(key []byte, height uint64, cp interface{}) error {
	n, err := e.store.ListLen(key)
	if err != nil {
		return err
	}
	if n > 0 {
		var last checkpointHeight
		if _, err := e.store.ListGet(key, n-1, &last); err != nil {
			return err
		}
		if last.Height == height {
			return e.store.ListSet(key, n-1, cp)
		}
	}
	_, err = e.store.ListAppend(key, cp)
	return err
}

// checkpointHeight decodes only the leading height of either checkpoint type.
type checkpointHeight struct {
	Height uint64
	Rest   []rlp.RawValue `rlp:"tail"`
}

// searchCheckpoint returns the index of the last checkpoint at or below
// height, or false when the first checkpoint is already above it. Lookups
// read O(log n) entries.
func (e *Engine) searchCheckpoint(key []byte, height uint64) (uint64, bool, error) {
	n, err := e.store.ListLen(key)
	if err != nil {
		return 0, false, err
	}
	var searchErr error
	idx := sort.Search(int(n), func(i int) bool {
		if searchErr != nil {
			return true
		}
		var cp checkpointHeight
		if _, err := e.store.ListGet(key, uint64(i), &cp); err != nil {
			searchErr = err
			return true
		}
		return cp.Height > height
	})
	if searchErr != nil {
		return 0, false, searchErr
	}
	if idx == 0 {
		return 0, false, nil
	}
	return uint64(idx - 1), true, nil
}

func (e *Engine) holdingAt(addr [20]byte, height uint64) (Holding, error) {
	key := holderCheckpointKey(addr)
	idx, ok, err := e.searchCheckpoint(key, height)
	if err != nil {
		return Holding{}, fmt.Errorf("token: load checkpoints: %w", err)
	}
	if !ok {
		return Holding{}.normalized(), nil
	}
	var cp Checkpoint
	if _, err := e.store.ListGet(key, idx, &cp); err != nil {
		return Holding{}, fmt.Errorf("token: load checkpoint: %w", err)
	}
	return Holding{Shares: cp.Shares, Offset: cp.Offset}.normalized(), nil
}

func (e *Engine) supplyAt(height uint64) (Supply, error) {
	idx, ok, err := e.searchCheckpoint(supplyCheckpointKey, height)
	if err != nil {
		return Supply{}, fmt.Errorf("token: load supply checkpoints: %w", err)
	}
	if !ok {
		return Supply{}.normalized(), nil
	}
	var cp SupplyCheckpoint
	if _, err := e.store.ListGet(supplyCheckpointKey, idx, &cp); err != nil {
		return Supply{}, fmt.Errorf("token: load supply checkpoint: %w", err)
	}
	return cp.supply(), nil
}
