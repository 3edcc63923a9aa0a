package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	batch := db.NewBatch()
	batch.Put([]byte("a/2"), []byte("two"))
	batch.Put([]byte("b/1"), []byte("other"))
	batch.Delete([]byte("a/1"))
	if batch.Len() != 3 {
		t.Fatalf("expected 3 batched ops, got %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("a/2")); ok {
		t.Fatalf("batched write visible before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}
	if ok, _ := db.Has([]byte("a/1")); ok {
		t.Fatalf("expected a/1 deleted")
	}
	value, err := db.Get([]byte("a/2"))
	if err != nil || string(value) != "two" {
		t.Fatalf("unexpected a/2: %q %v", value, err)
	}
	var keys []string
	if err := db.Iterate([]byte("a/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a/2" {
		t.Fatalf("unexpected prefix keys %v", keys)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ldb"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("rocks", "/tmp/x"); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
