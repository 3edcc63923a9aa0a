package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// KeystoreStrength selects the scrypt cost used to encrypt a key file.
type KeystoreStrength struct {
	N int
	P int
}

var (
	// StandardStrength is used for operator keys.
	StandardStrength = KeystoreStrength{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightStrength trades security for speed and suits throwaway keys.
	LightStrength = KeystoreStrength{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

// SaveToKeystore encrypts key into a v3 keystore file at path with the
// standard scrypt cost. The parent directory is created with 0700
// permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return SaveToKeystoreWith(path, key, passphrase, StandardStrength)
}

// SaveToKeystoreWith encrypts key with an explicit scrypt cost. An existing
// file at path is replaced.
func SaveToKeystoreWith(path string, key *PrivateKey, passphrase string, strength KeystoreStrength) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("keystore: nil private key")
	}
	if path == "" {
		return errors.New("keystore: empty path")
	}
	if passphrase == "" {
		return errors.New("keystore: empty passphrase")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("keystore: create dir: %w", err)
	}
	staging, err := os.MkdirTemp(dir, ".keystore-")
	if err != nil {
		return fmt.Errorf("keystore: staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	ks := keystore.NewKeyStore(staging, strength.N, strength.P)
	account, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return fmt.Errorf("keystore: encrypt: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("keystore: replace %s: %w", path, err)
	}
	if err := os.Rename(account.URL.Path, path); err != nil {
		return fmt.Errorf("keystore: move into place: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a v3 keystore file.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("keystore: empty path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
