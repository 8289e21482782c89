package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.connect/config.toml.
type Config struct {
	DefaultUser string `toml:"default_user"`
	BackendURL  string `toml:"backend_url"`
	// IDToken authenticates backend requests for the default user.
	IDToken string `toml:"id_token"`
	// PhoneNumber is sent on sign-in; the backend only uses it once.
	PhoneNumber string `toml:"phone_number"`
	// DeviceToken registers this device for push delivery when set.
	DeviceToken   string    `toml:"device_token"`
	HTTPListen    string    `toml:"http_listen"`
	WebhookSecret string    `toml:"webhook_secret"`
	ContactsFile  string    `toml:"contacts_file"`
	RateLimit     RateLimit `toml:"rate_limit"`
}

// RateLimit bounds outgoing backend requests.
type RateLimit struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BackendURL: "http://localhost:8080",
		HTTPListen: "127.0.0.1:8765",
		RateLimit:  RateLimit{RPS: 10, Burst: 20},
	}
}

// Load reads config from the given path on top of Default. Returns error
// if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative")
	}
	return nil
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
