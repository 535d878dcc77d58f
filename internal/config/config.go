// Package config holds runtime configuration for the nlmcp daemon and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is populated from the environment. Every field has a sensible
// default so a bare invocation works out of the box.
type Config struct {
	DataDir string `env:"NLMCP_DATA_DIR"`

	// EncryptionKey is a 64-character hex string (256 bits). When empty the
	// vault falls back to the key file in DataDir.
	EncryptionKey string `env:"NLMCP_ENCRYPTION_KEY"`

	MaxSessions           int     `env:"NLMCP_MAX_SESSIONS" envDefault:"5"`
	SessionTimeoutMinutes float64 `env:"NLMCP_SESSION_TIMEOUT_MINUTES" envDefault:"30"`

	AnswerTimeout  time.Duration `env:"NLMCP_ANSWER_TIMEOUT" envDefault:"120s"`
	PollInterval   time.Duration `env:"NLMCP_POLL_INTERVAL" envDefault:"1s"`
	StableReads    int           `env:"NLMCP_STABLE_READS" envDefault:"8"`
	AutoLoginLimit time.Duration `env:"NLMCP_AUTOLOGIN_TIMEOUT" envDefault:"60s"`

	Headless bool `env:"NLMCP_HEADLESS" envDefault:"true"`
	Debug    bool `env:"NLMCP_DEBUG"`
}

// Load parses the environment and fills in derived defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".nlmcp")
	}
	return &cfg, nil
}

// AccountsDir is where per-account profile and credential files live.
func (c *Config) AccountsDir() string { return filepath.Join(c.DataDir, "accounts") }

// BrowserStateDir holds the default (single-account) persisted browser state.
func (c *Config) BrowserStateDir() string { return filepath.Join(c.DataDir, "browser_state") }

// KeyFilePath is the fallback location of the vault encryption key.
func (c *Config) KeyFilePath() string { return filepath.Join(c.DataDir, "encryption.key") }
