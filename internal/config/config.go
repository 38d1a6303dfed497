// Package config provides configuration loading from YAML files, the macOS
// Keychain, and environment variables. Environment variables take precedence
// for dev flexibility.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	// KeychainService is the Keychain service name for lovetrack secrets.
	KeychainService = "lovetrack"

	// KeyAPIToken is the Keychain account holding the streaming API token.
	KeyAPIToken = "api-token"
)

// Config holds the full application configuration, assembled from
// YAML + Keychain + env.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Tracker TrackerConfig `yaml:"tracker"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig selects and sizes the frame source.
type DeviceConfig struct {
	// Emulated forces the synthetic backend even on darwin.
	Emulated bool `yaml:"emulated"`
	// MaxTouches sizes poll buffers in the bundled tools.
	MaxTouches int `yaml:"max_touches"`
}

// Duration is a time.Duration that round-trips through YAML as a string
// like "80ms".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// TrackerConfig holds the tracking engine parameters.
type TrackerConfig struct {
	MinSize       float32  `yaml:"min_size"`
	MatchDistance float32  `yaml:"match_distance"`
	Smoothing     float32  `yaml:"smoothing"`
	Linger        Duration `yaml:"linger"`
}

// ServerConfig holds the streaming server parameters.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	CORS     bool   `yaml:"cors"`
	APIToken string `yaml:"-"` // secret, not in YAML
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the built-in defaults, used when no file exists and as the
// base layer under one that does.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			MaxTouches: 16,
		},
		Tracker: TrackerConfig{
			MinSize:       0.05,
			MatchDistance: 0.15,
			Smoothing:     0.6,
			Linger:        Duration(80 * time.Millisecond),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8654",
			CORS: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lovetrack")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if p := os.Getenv("LOVETRACK_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load assembles configuration from YAML file + Keychain + environment
// variables. Environment variables always take precedence. Returns a usable
// Config even if some sources are missing.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	// 1. YAML config file, when present.
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// 2. Keychain secrets (ignore errors — Keychain may not be populated).
	if token, err := keyring.Get(KeychainService, KeyAPIToken); err == nil {
		cfg.Server.APIToken = token
	}

	// 3. Environment variables override everything.
	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LOVETRACK_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("LOVETRACK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOVETRACK_EMULATED"); v != "" {
		cfg.Device.Emulated = v == "1" || v == "true"
	}
	if v := os.Getenv("LOVETRACK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOVETRACK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOVETRACK_MAX_TOUCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Device.MaxTouches = n
		}
	}
	if v := os.Getenv("LOVETRACK_MIN_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Tracker.MinSize = float32(f)
		}
	}
}

// WriteConfigFile writes the non-secret portion of config to the YAML file.
func WriteConfigFile(cfg *Config) error {
	path := DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// SetKeychainSecret stores a secret in the Keychain.
func SetKeychainSecret(account, value string) error {
	// Delete first to avoid "already exists" errors on update
	_ = keyring.Delete(KeychainService, account)
	return keyring.Set(KeychainService, account, value)
}

// GetKeychainSecret retrieves a secret from the Keychain.
func GetKeychainSecret(account string) (string, error) {
	return keyring.Get(KeychainService, account)
}
