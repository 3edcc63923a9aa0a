package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"yieldprotocol/storage"
)

// Config is the yieldd node configuration.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	GenesisFile    string `toml:"GenesisFile"`
	Environment    string `toml:"Environment"`

	Log       Log       `toml:"log"`
	Telemetry Telemetry `toml:"telemetry"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Indexer   Indexer   `toml:"indexer"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by the defaults, which are written back to path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress:  ":8080",
		DataDir:        "./yield-data",
		StorageBackend: storage.BackendLevelDB,
		Environment:    "local",
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Auth: Auth{
			SecretEnv: "YIELDD_JWT_SECRET",
			Issuer:    "yieldd",
			Audience:  "yieldd-admin",
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// StoragePath returns the database location for the configured backend.
func (c *Config) StoragePath() string {
	switch c.StorageBackend {
	case storage.BackendBolt:
		return filepath.Join(c.DataDir, "ledger.bolt")
	case storage.BackendMemory:
		return ""
	default:
		return filepath.Join(c.DataDir, "ledger")
	}
}

// JWTSecret resolves the operator token secret.
func (c *Config) JWTSecret() ([]byte, error) {
	if env := strings.TrimSpace(c.Auth.SecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return []byte(v), nil
		}
	}
	if file := strings.TrimSpace(c.Auth.SecretFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("auth: read secret file: %w", err)
		}
		if secret := strings.TrimSpace(string(raw)); secret != "" {
			return []byte(secret), nil
		}
	}
	return nil, fmt.Errorf("auth: no JWT secret configured")
}
