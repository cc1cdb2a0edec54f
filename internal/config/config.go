/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides configuration management for SecureDB tools.

The configuration system supports multiple sources with clear precedence:
 1. Command-line flags (highest priority)
 2. Environment variables
 3. Configuration file
 4. Default values (lowest priority)

Configuration File Format:
The configuration file uses TOML.

Example configuration file:

	# SecureDB Configuration
	db_path = "./securedb.db"
	backend = "bolt"          # bolt | wal | memory
	nonce_policy = "reserve"  # reserve | flush | periodic
	nonce_interval = 128
	sync_on_commit = true
	log_level = "info"
	log_json = false

Secrets:
The master key is never read from or written to the configuration file.
Supply it through the environment, either directly or as a passphrase:
 1. SECUREDB_MASTER_KEY: hex-encoded master key
 2. SECUREDB_PASSPHRASE: passphrase stretched with PBKDF2-SHA256, salted
    with SECUREDB_KDF_SALT when set

Environment Variables:
  - SECUREDB_DB_PATH: Path to the database file
  - SECUREDB_BACKEND: Storage backend (bolt, wal, memory)
  - SECUREDB_NONCE_POLICY: Counter persistence policy
  - SECUREDB_NONCE_INTERVAL: Allocations between counter writes
  - SECUREDB_SYNC_ON_COMMIT: fsync every commit (true/false)
  - SECUREDB_LOG_LEVEL: Log level (debug, info, warn, error)
  - SECUREDB_LOG_JSON: Enable JSON logging (true/false)
  - SECUREDB_CONFIG_FILE: Path to configuration file
*/
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"securedb/internal/crypto"
	"securedb/internal/logging"
	"securedb/internal/securedb"
	"securedb/internal/storage"
)

// Environment variable names for configuration.
const (
	EnvDBPath        = "SECUREDB_DB_PATH"
	EnvBackend       = "SECUREDB_BACKEND"
	EnvNoncePolicy   = "SECUREDB_NONCE_POLICY"
	EnvNonceInterval = "SECUREDB_NONCE_INTERVAL"
	EnvSyncOnCommit  = "SECUREDB_SYNC_ON_COMMIT"
	EnvLogLevel      = "SECUREDB_LOG_LEVEL"
	EnvLogJSON       = "SECUREDB_LOG_JSON"
	EnvConfigFile    = "SECUREDB_CONFIG_FILE"
	EnvMasterKey     = "SECUREDB_MASTER_KEY"
	EnvPassphrase    = "SECUREDB_PASSPHRASE"
	EnvKDFSalt       = "SECUREDB_KDF_SALT"
)

// ErrNoMasterKey is returned by MasterKey when no secret is configured.
var ErrNoMasterKey = errors.New("no master key configured: set " + EnvMasterKey + " or " + EnvPassphrase)

// Default configuration file paths (searched in order).
var DefaultConfigPaths = []string{
	"$HOME/.config/securedb/securedb.toml",
	"./securedb.toml",
}

// Config holds all configuration values for SecureDB tools.
type Config struct {
	DBPath        string `toml:"db_path"`
	Backend       string `toml:"backend"`
	NoncePolicy   string `toml:"nonce_policy"`
	NonceInterval uint64 `toml:"nonce_interval"`
	SyncOnCommit  bool   `toml:"sync_on_commit"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	// Secrets (never persisted to file)
	MasterKeyHex string `toml:"-"`
	Passphrase   string `toml:"-"`
	KDFSalt      string `toml:"-"`

	// ConfigFile is the path the configuration was loaded from.
	ConfigFile string `toml:"-"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:        "securedb.db",
		Backend:       string(storage.EngineTypeBolt),
		NoncePolicy:   securedb.PolicyReserve.String(),
		NonceInterval: securedb.DefaultNonceInterval,
		SyncOnCommit:  true,
		LogLevel:      "info",
	}
}

// Manager handles configuration loading, validation, and access.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

// NewManager creates a new configuration manager with default values.
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the configuration.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend != "" {
		if _, err := storage.ParseEngineType(c.Backend); err != nil {
			errs = append(errs, fmt.Sprintf("invalid backend: %s (must be bolt, wal, or memory)", c.Backend))
		}
	}
	if _, err := securedb.ParseNoncePolicy(c.NoncePolicy); err != nil {
		errs = append(errs, fmt.Sprintf("invalid nonce_policy: %s (must be reserve, flush, or periodic)", c.NoncePolicy))
	}
	if c.NonceInterval == 0 {
		errs = append(errs, "nonce_interval must be greater than zero")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	if c.DBPath == "" && c.Backend != string(storage.EngineTypeMemory) {
		errs = append(errs, "db_path cannot be empty")
	}

	if c.MasterKeyHex != "" {
		if _, err := hex.DecodeString(c.MasterKeyHex); err != nil {
			errs = append(errs, EnvMasterKey+" is not valid hex")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LoadFromFile loads configuration from a TOML file on top of the defaults.
func (m *Manager) LoadFromFile(path string) error {
	path = os.ExpandEnv(path)

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	// Secrets are kept from the environment pass, never from the file.
	current := m.Get()
	cfg.MasterKeyHex = current.MasterKeyHex
	cfg.Passphrase = current.Passphrase
	cfg.KDFSalt = current.KDFSalt

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// This merges with existing configuration (env vars override file values).
func (m *Manager) LoadFromEnv() error {
	cfg := m.Get()

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(EnvNoncePolicy); v != "" {
		cfg.NoncePolicy = v
	}
	if v := os.Getenv(EnvNonceInterval); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value: %s", EnvNonceInterval, v)
		}
		cfg.NonceInterval = n
	}
	if v := os.Getenv(EnvSyncOnCommit); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value: %s", EnvSyncOnCommit, v)
		}
		cfg.SyncOnCommit = b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvMasterKey); v != "" {
		cfg.MasterKeyHex = v
	}
	if v := os.Getenv(EnvPassphrase); v != "" {
		cfg.Passphrase = v
	}
	if v := os.Getenv(EnvKDFSalt); v != "" {
		cfg.KDFSalt = v
	}

	m.Set(cfg)
	return nil
}

// FindConfigFile searches for a configuration file in default locations.
// Returns the path to the first file found, or empty string if none found.
func FindConfigFile() string {
	if envPath := os.Getenv(EnvConfigFile); envPath != "" {
		if _, err := os.Stat(os.ExpandEnv(envPath)); err == nil {
			return os.ExpandEnv(envPath)
		}
	}

	for _, path := range DefaultConfigPaths {
		expandedPath := os.ExpandEnv(path)
		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath
		}
	}
	return ""
}

// Load loads configuration from all sources with proper precedence.
// Order: defaults -> config file -> environment variables.
// An explicit path overrides the search; command-line flags should be
// applied after calling this function.
func (m *Manager) Load(path string) error {
	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		if err := m.LoadFromFile(path); err != nil {
			return err
		}
	}
	return m.LoadFromEnv()
}

// MasterKey resolves the configured secret. A hex key wins over a
// passphrase. The caller should wipe the result with crypto.Zero.
func (c *Config) MasterKey() ([]byte, error) {
	if c.MasterKeyHex != "" {
		key, err := hex.DecodeString(strings.TrimSpace(c.MasterKeyHex))
		if err != nil {
			return nil, fmt.Errorf("%s is not valid hex: %w", EnvMasterKey, err)
		}
		return key, nil
	}
	if c.Passphrase != "" {
		return crypto.PassphraseKey(c.Passphrase, []byte(c.KDFSalt)), nil
	}
	return nil, ErrNoMasterKey
}

// Options maps the configuration onto securedb.Options.
func (c *Config) Options() (securedb.Options, error) {
	backend, err := storage.ParseEngineType(c.Backend)
	if err != nil {
		return securedb.Options{}, err
	}
	policy, err := securedb.ParseNoncePolicy(c.NoncePolicy)
	if err != nil {
		return securedb.Options{}, err
	}
	return securedb.Options{
		Backend:       backend,
		NoncePolicy:   policy,
		NonceInterval: c.NonceInterval,
		SyncOnCommit:  c.SyncOnCommit,
	}, nil
}

// LoggingConfig maps the configuration onto logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.LogLevel)
	cfg.JSONMode = c.LogJSON
	return cfg
}

// String returns a string representation of the configuration.
// Secrets are reported as set or unset only.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("SecureDB Configuration:\n")
	sb.WriteString(fmt.Sprintf("  DB Path:          %s\n", c.DBPath))
	sb.WriteString(fmt.Sprintf("  Backend:          %s\n", c.Backend))
	sb.WriteString(fmt.Sprintf("  Nonce Policy:     %s\n", c.NoncePolicy))
	sb.WriteString(fmt.Sprintf("  Nonce Interval:   %d\n", c.NonceInterval))
	sb.WriteString(fmt.Sprintf("  Sync On Commit:   %v\n", c.SyncOnCommit))
	sb.WriteString(fmt.Sprintf("  Log Level:        %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("  Log JSON:         %v\n", c.LogJSON))
	sb.WriteString(fmt.Sprintf("  Master Key:       %s\n", secretState(c)))
	if c.ConfigFile != "" {
		sb.WriteString(fmt.Sprintf("  Config File:      %s\n", c.ConfigFile))
	}
	return sb.String()
}

func secretState(c *Config) string {
	switch {
	case c.MasterKeyHex != "":
		return "set (" + EnvMasterKey + ")"
	case c.Passphrase != "":
		return "set (" + EnvPassphrase + ")"
	default:
		return "unset"
	}
}

// ToTOML returns the configuration as a TOML document.
func (c *Config) ToTOML() (string, error) {
	var sb strings.Builder
	sb.WriteString("# SecureDB Configuration File\n")
	sb.WriteString("# The master key is read from " + EnvMasterKey + " or " + EnvPassphrase + ".\n\n")
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return sb.String(), nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	path = os.ExpandEnv(path)

	data, err := c.ToTOML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
