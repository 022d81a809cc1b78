// Package config holds process configuration and the execution-config
// resolver used to initialize the agent gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"CELADON_HTTP_PORT" default:"3000"`

	// Storage. StorageDir is the single-tenant workspace (and the mirror
	// root in multi-tenant mode). DBPath switches on multi-tenant mode.
	StorageDir string `envconfig:"CELADON_STORAGE_DIR"`
	DBPath     string `envconfig:"CELADON_DB_PATH"`

	// Auth (multi-tenant mode only)
	AdminEmail  string        `envconfig:"CELADON_ADMIN_EMAIL"`
	TokenSecret string        `envconfig:"CELADON_TOKEN_SECRET"`
	TokenTTL    time.Duration `envconfig:"CELADON_TOKEN_TTL" default:"168h"`

	// Server
	CORSOrigins string `envconfig:"CELADON_CORS_ORIGINS" default:"*"`

	// Coding-agent engine
	EngineURL        string `envconfig:"CELADON_ENGINE_URL"`
	EngineSessionDir string `envconfig:"CELADON_ENGINE_SESSION_DIR"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// MultiTenant reports whether the database backend is active.
func (c *Config) MultiTenant() bool {
	return c.DBPath != ""
}

// Storage returns the workspace directory, defaulting to .celadon under
// the current working directory.
func (c *Config) Storage() string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, ".celadon")
}

// SessionDir returns the engine session-storage directory, defaulting to
// ~/.celadon/sessions.
func (c *Config) SessionDir() string {
	if c.EngineSessionDir != "" {
		return c.EngineSessionDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".celadon", "sessions")
}
