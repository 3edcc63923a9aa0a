package vault

import (
	"fmt"

	"yieldprotocol/core/types"
)

// storage abstracts the subset of state manager functionality required by the
// vault ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	NextSequence(key []byte) (uint64, error)
}

var (
	positionSeqKey = []byte("vault/position/seq")
	positionPrefix = "vault/position/"
	ownerPrefix    = "vault/owner/"
	bookPrefix     = "vault/book/"
)

func positionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", positionPrefix, id))
}

func ownerIndexKey(owner [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", ownerPrefix, owner))
}

func bookKey(class types.AssetClass) []byte {
	return []byte(bookPrefix + class.String())
}

func (e *Engine) loadPosition(id uint64) (*Position, bool, error) {
	var stored Position
	ok, err := e.store.KVGet(positionKey(id), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("vault: load position %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	stored.ensureDefaults()
	return &stored, true, nil
}

func (e *Engine) putPosition(pos *Position) error {
	if err := e.store.KVPut(positionKey(pos.ID), pos); err != nil {
		return fmt.Errorf("vault: persist position %d: %w", pos.ID, err)
	}
	return nil
}

func (e *Engine) loadBook(class types.AssetClass) (*Book, error) {
	stored := newBook(class)
	ok, err := e.store.KVGet(bookKey(class), stored)
	if err != nil {
		return nil, fmt.Errorf("vault: load %s book: %w", class, err)
	}
	if !ok {
		return newBook(class), nil
	}
	stored.Class = class
	stored.ensureDefaults()
	return stored, nil
}

func (e *Engine) putBook(book *Book) error {
	if err := e.store.KVPut(bookKey(book.Class), book); err != nil {
		return fmt.Errorf("vault: persist %s book: %w", book.Class, err)
	}
	return nil
}
