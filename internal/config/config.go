package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/veilmsg/veil/internal/delivery"
)

// Config represents the global ~/.veil/config.toml.
type Config struct {
	DefaultProfile      string   `toml:"default_profile"`
	BackendURL          string   `toml:"backend_url"`
	DeviceID            string   `toml:"device_id"`
	Region              string   `toml:"region"`
	EnabledPaths        []string `toml:"enabled_paths"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	AutoReply           bool     `toml:"auto_reply"`
}

// Defaults returns a config with the out-of-box values. The device id is
// left empty; callers must assign one before the daemon starts.
func Defaults() *Config {
	return &Config{
		BackendURL:          "http://localhost:8000",
		Region:              "US",
		EnabledPaths:        []string{"sms", "email"},
		PollIntervalSeconds: 2,
	}
}

// Paths returns the enabled delivery paths in canonical form.
func (c *Config) Paths() []delivery.Path {
	paths := make([]delivery.Path, 0, len(c.EnabledPaths))
	for _, p := range c.EnabledPaths {
		paths = append(paths, delivery.Normalize(p))
	}
	return paths
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
