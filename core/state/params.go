package state

import "strings"

var (
	paramStorePrefix = []byte("params/")
	heightKey        = []byte("meta/height")
	lastTimeKey      = []byte("meta/lastTime")
)

// ParamStoreKey returns the state key holding the named parameter blob.
func ParamStoreKey(name string) []byte {
	trimmed := strings.TrimSpace(name)
	buf := make([]byte, len(paramStorePrefix)+len(trimmed))
	copy(buf, paramStorePrefix)
	copy(buf[len(paramStorePrefix):], trimmed)
	return buf
}

// ParamStoreSet stores a raw parameter payload.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	return m.KVPut(ParamStoreKey(name), value)
}

// ParamStoreGet loads a raw parameter payload.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	var value []byte
	ok, err := m.KVGet(ParamStoreKey(name), &value)
	if err != nil || !ok {
		return nil, ok, err
	}
	return value, true, nil
}

// Height returns the number of committed ledger calls.
func (m *Manager) Height() (uint64, error) {
	var height uint64
	if _, err := m.KVGet(heightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// AdvanceHeight increments the call height. The write is journaled, so a
// reverted call leaves the height unchanged.
func (m *Manager) AdvanceHeight() (uint64, error) {
	return m.NextSequence(heightKey)
}

// LastTime returns the unix timestamp recorded by the last committed call.
func (m *Manager) LastTime() (uint64, error) {
	var ts uint64
	if _, err := m.KVGet(lastTimeKey, &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// SetLastTime records the timestamp of the current call.
func (m *Manager) SetLastTime(ts uint64) error {
	return m.KVPut(lastTimeKey, ts)
}
