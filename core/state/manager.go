package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"yieldprotocol/storage"
)

// Manager exposes keyed records over a storage.Database. Writes land in an
// in-memory overlay and are journaled so a failed call can be rolled back to
// any snapshot; Commit flushes the overlay through one atomic batch.
type Manager struct {
	db      storage.Database
	dirty   map[string]overlayEntry
	journal []journalEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    overlayEntry
	hadPrev bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]overlayEntry)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) write(hashed []byte, entry overlayEntry) {
	key := string(hashed)
	prev, hadPrev := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: hadPrev})
	m.dirty[key] = entry
}

// Snapshot returns an identifier that can later be passed to RevertToSnapshot.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write recorded after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports how many keys are waiting to be committed.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit writes the overlay to the database in a single batch. On failure the
// overlay and journal are left untouched so the caller can revert.
func (m *Manager) Commit() error {
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := m.db.NewBatch()
	for key, entry := range m.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]overlayEntry)
	m.journal = m.journal[:0]
	return nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), overlayEntry{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), overlayEntry{deleted: true})
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, overlayEntry{value: encoded})
	return nil
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// NextSequence increments and returns the counter stored under key. The first
// call returns 1.
func (m *Manager) NextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := m.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

func listLenKey(key []byte) []byte {
	return append(append([]byte(nil), key...), []byte("\x00len")...)
}

func listItemKey(key []byte, index uint64) []byte {
	out := append(append([]byte(nil), key...), 0x00, 'i')
	return binary.BigEndian.AppendUint64(out, index)
}

// ListLen returns the number of elements in the list rooted at key.
func (m *Manager) ListLen(key []byte) (uint64, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("kv: key must not be empty")
	}
	var n uint64
	if _, err := m.KVGet(listLenKey(key), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListAppend stores value as the next element of the list rooted at key and
// returns its index. Every element has its own key, so appending touches two
// records regardless of list length. Duplicates are not filtered.
func (m *Manager) ListAppend(key []byte, value interface{}) (uint64, error) {
	n, err := m.ListLen(key)
	if err != nil {
		return 0, err
	}
	if err := m.KVPut(listItemKey(key, n), value); err != nil {
		return 0, err
	}
	if err := m.KVPut(listLenKey(key), n+1); err != nil {
		return 0, err
	}
	return n, nil
}

// ListGet decodes the element at index into out.
func (m *Manager) ListGet(key []byte, index uint64, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.KVGet(listItemKey(key, index), out)
}

// ListSet overwrites an existing element.
func (m *Manager) ListSet(key []byte, index uint64, value interface{}) error {
	n, err := m.ListLen(key)
	if err != nil {
		return err
	}
	if index >= n {
		return fmt.Errorf("kv: list index %d out of range %d", index, n)
	}
	return m.KVPut(listItemKey(key, index), value)
}
