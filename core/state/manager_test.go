package state

import (
	"math/big"
	"testing"

	"yieldprotocol/storage"
)

type record struct {
	Owner  [20]byte
	Amount *big.Int
	Closed bool
}

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestParamStoreKeyFormat(t *testing.T) {
	if string(ParamStoreKey(" protocol ")) != "params/protocol" {
		t.Fatalf("unexpected param key: %s", ParamStoreKey(" protocol "))
	}
}

func TestKVRoundTripThroughCommit(t *testing.T) {
	mgr, db := newTestManager(t)
	in := record{Owner: [20]byte{1}, Amount: big.NewInt(42)}
	if err := mgr.KVPut([]byte("rec/1"), in); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened := NewManager(db)
	var out record
	ok, err := reopened.KVGet([]byte("rec/1"), &out)
	if err != nil || !ok {
		t.Fatalf("expected record after commit: ok=%v err=%v", ok, err)
	}
	if out.Owner != in.Owner || out.Amount.Cmp(in.Amount) != 0 {
		t.Fatalf("unexpected record %+v", out)
	}
}

func TestRevertToSnapshotRestoresPriorValues(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap := mgr.Snapshot()
	if err := mgr.KVPut([]byte("k"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVPut([]byte("other"), uint64(9)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("k"), nil); ok {
		t.Fatalf("expected key deleted in overlay")
	}
	mgr.RevertToSnapshot(snap)

	var value uint64
	ok, err := mgr.KVGet([]byte("k"), &value)
	if err != nil || !ok || value != 1 {
		t.Fatalf("expected committed value 1, got %d ok=%v err=%v", value, ok, err)
	}
	if ok, _ := mgr.KVGet([]byte("other"), nil); ok {
		t.Fatalf("expected reverted key absent")
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected empty overlay, got %d", mgr.Pending())
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr, _ := newTestManager(t)
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend([]byte("index"), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("index"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	var empty [][]byte
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", empty, err)
	}
}

func TestListAppendAndSet(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("checkpoints")
	for i := uint64(0); i < 3; i++ {
		idx, err := mgr.ListAppend(key, i*10)
		if err != nil || idx != i {
			t.Fatalf("append %d: idx=%d err=%v", i, idx, err)
		}
	}
	if err := mgr.ListSet(key, 2, uint64(25)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mgr.ListSet(key, 3, uint64(1)); err == nil {
		t.Fatalf("expected out of range set to fail")
	}
	n, err := mgr.ListLen(key)
	if err != nil || n != 3 {
		t.Fatalf("unexpected len %d %v", n, err)
	}
	var v uint64
	if ok, err := mgr.ListGet(key, 2, &v); !ok || err != nil || v != 25 {
		t.Fatalf("unexpected element %d ok=%v err=%v", v, ok, err)
	}
	if ok, _ := mgr.ListGet(key, 9, &v); ok {
		t.Fatalf("expected missing element")
	}

	snap := mgr.Snapshot()
	if _, err := mgr.ListAppend(key, uint64(99)); err != nil {
		t.Fatalf("append: %v", err)
	}
	mgr.RevertToSnapshot(snap)
	if n, _ := mgr.ListLen(key); n != 3 {
		t.Fatalf("expected reverted len 3, got %d", n)
	}
}

func TestHeightAdvanceIsJournaled(t *testing.T) {
	mgr, _ := newTestManager(t)
	snap := mgr.Snapshot()
	height, err := mgr.AdvanceHeight()
	if err != nil || height != 1 {
		t.Fatalf("unexpected height %d %v", height, err)
	}
	mgr.RevertToSnapshot(snap)
	if current, _ := mgr.Height(); current != 0 {
		t.Fatalf("expected height reverted to 0, got %d", current)
	}
}

func TestParamStoreRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.ParamStoreSet("protocol", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := mgr.ParamStoreGet("protocol")
	if err != nil || !ok || string(raw) != `{"version":1}` {
		t.Fatalf("unexpected param blob %q ok=%v err=%v", raw, ok, err)
	}
}
