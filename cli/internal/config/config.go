package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration
type Config struct {
	Server     string     `yaml:"server"`
	APIKey     string     `yaml:"api_key"`
	LastSyncAt *time.Time `yaml:"last_sync_at,omitempty"`
}

// ErrNotConfigured is returned by commands that need a server
var ErrNotConfigured = errors.New("not configured, run 'gasometer config --server <url> --api-key <key>' first")

// Path returns the config file location. GASOMETER_CONFIG overrides
// ~/.gasometer.yaml.
func Path() (string, error) {
	if p := os.Getenv("GASOMETER_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gasometer.yaml"), nil
}

// Load loads the configuration from disk. GASOMETER_URL and
// GASOMETER_API_KEY override the file, so a stop hook can run without one.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("GASOMETER_URL"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("GASOMETER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	return cfg, nil
}

// LoadFile reads one config file. A missing file is an empty config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

// SaveFile writes cfg to path, readable only by the owner
func SaveFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Configured reports whether a server URL is set. The API key may be empty
// for servers running open.
func (c *Config) Configured() bool {
	return c != nil && c.Server != ""
}

// MaskedKey shows the key's first and last few characters
func (c *Config) MaskedKey() string {
	if len(c.APIKey) <= 14 {
		return "****"
	}
	return c.APIKey[:10] + "..." + c.APIKey[len(c.APIKey)-4:]
}
