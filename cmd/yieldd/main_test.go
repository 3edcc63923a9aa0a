package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"yieldprotocol/config"
	"yieldprotocol/storage"
)

const nodeGenesis = `genesisTime: "2026-03-01T00:00:00Z"
params:
  committee:
    - "0x0000000000000000000000000000000000000001"
    - "0x0000000000000000000000000000000000000002"
    - "0x0000000000000000000000000000000000000003"
  committeeQuorum: 2
alloc:
  "0xa100000000000000000000000000000000000000":
    USDC: "1000000000"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	genesisPath := filepath.Join(dir, "genesis.yaml")
	if err := os.WriteFile(genesisPath, []byte(nodeGenesis), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.StorageBackend = storage.BackendMemory
	cfg.GenesisFile = genesisPath
	cfg.Indexer = config.Indexer{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())}
	cfg.Auth.SecretEnv = "YIELDD_TEST_SECRET"
	t.Setenv("YIELDD_TEST_SECRET", "node-test-secret")
	return cfg
}

func TestNewNodeAppliesGenesisAndServes(t *testing.T) {
	cfg := testConfig(t)
	logs := &bytes.Buffer{}
	n, err := newNode(context.Background(), cfg, slog.New(slog.NewJSONHandler(logs, nil)))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Close()

	p, err := n.ledger.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.CommitteeQuorum != 2 {
		t.Fatalf("expected quorum 2, got %d", p.CommitteeQuorum)
	}
	if err := n.ensureGenesis(context.Background(), cfg.GenesisFile); err != nil {
		t.Fatalf("second genesis pass should be a no-op: %v", err)
	}

	for _, path := range []string{"/healthz", "/v1/status/params", "/v1/accounts/0xa100000000000000000000000000000000000000/assets/USDC", "/v1/events"} {
		res := httptest.NewRecorder()
		n.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, res.Code, res.Body.String())
		}
	}
}

func TestNewNodeRequiresGenesisForEmptyLedger(t *testing.T) {
	cfg := testConfig(t)
	cfg.GenesisFile = ""
	if _, err := newNode(context.Background(), cfg, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))); err == nil {
		t.Fatalf("expected error without genesis")
	}
}

func TestNewNodeWithoutSecretDisablesOperatorRoutes(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("YIELDD_TEST_SECRET", "")
	n, err := newNode(context.Background(), cfg, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Close()

	res := httptest.NewRecorder()
	n.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
