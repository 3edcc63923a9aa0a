package bank

import (
	"errors"
	"math/big"
	"testing"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	"yieldprotocol/core/state"
	kvstore "yieldprotocol/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *events.Buffer) {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	ledger := NewLedger(state.NewManager(db))
	buf := &events.Buffer{}
	ledger.SetEmitter(buf)
	return ledger, buf
}

func TestIssueAndTransfer(t *testing.T) {
	ledger, buf := newTestLedger(t)
	alice := [20]byte{1}
	bob := [20]byte{2}

	if err := ledger.Issue(alice, "usdc", big.NewInt(1_000)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.Transfer(alice, bob, "USDC", big.NewInt(400), "test"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(alice, "USDC")
	bobBal, _ := ledger.Balance(bob, "usdc")
	if aliceBal.Int64() != 600 || bobBal.Int64() != 400 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	supply, _ := ledger.Supply("USDC")
	if supply.Int64() != 1_000 {
		t.Fatalf("transfers must not change supply, got %s", supply)
	}
	assets, _ := ledger.Assets()
	if len(assets) != 1 || assets[0] != "USDC" {
		t.Fatalf("unexpected asset index %v", assets)
	}
	if buf.Len() != 2 {
		t.Fatalf("expected issue and transfer events, got %d", buf.Len())
	}
}

func TestTransferRejectsOverdraftAndZero(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice := [20]byte{1}
	if err := ledger.Issue(alice, "PAXG", big.NewInt(10)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	err := ledger.Transfer(alice, [20]byte{2}, "PAXG", big.NewInt(11), "")
	if !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := ledger.Transfer(alice, [20]byte{2}, "PAXG", big.NewInt(0), ""); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
