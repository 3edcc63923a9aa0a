package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveToKeystoreWith(path, key, "s3cret", LightStrength); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", info.Mode().Perm())
	}
	loaded, err := LoadFromKeystore(path, "s3cret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().Raw() != key.PubKey().Address().Raw() {
		t.Fatalf("loaded key derives a different address")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestKeystoreRejectsEmptyInputs(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	dir := t.TempDir()
	if err := SaveToKeystoreWith(filepath.Join(dir, "k.json"), key, "", LightStrength); err == nil {
		t.Fatalf("expected empty passphrase to be rejected")
	}
	if err := SaveToKeystoreWith("", key, "pw", LightStrength); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
	if err := SaveToKeystoreWith(filepath.Join(dir, "k.json"), nil, "pw", LightStrength); err == nil {
		t.Fatalf("expected nil key to be rejected")
	}
}
