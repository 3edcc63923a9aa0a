package config

import (
	"fmt"
	"strings"

	"yieldprotocol/storage"
)

var (
	// MaxSampleRatio bounds Telemetry.SampleRatio.
	MaxSampleRatio = 1.0
	knownDrivers   = map[string]struct{}{"": {}, DriverSQLite: {}, DriverPostgres: {}}
	knownBackends  = map[string]struct{}{
		storage.BackendLevelDB: {},
		storage.BackendBolt:    {},
		storage.BackendMemory:  {},
	}
)

// Indexer drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if _, ok := knownBackends[backend]; !ok {
		return fmt.Errorf("config: unknown StorageBackend %q", cfg.StorageBackend)
	}
	if backend != storage.BackendMemory && strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required for %s storage", backend)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst must be positive when RequestsPerSecond is set")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > MaxSampleRatio {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, %g]", MaxSampleRatio)
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	if _, ok := knownDrivers[driver]; !ok {
		return fmt.Errorf("indexer: unknown Driver %q", cfg.Indexer.Driver)
	}
	if driver != "" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: DSN required for %s", driver)
	}
	if strings.TrimSpace(cfg.Auth.SecretEnv) == "" && strings.TrimSpace(cfg.Auth.SecretFile) == "" {
		return fmt.Errorf("auth: SecretEnv or SecretFile required")
	}
	return nil
}
