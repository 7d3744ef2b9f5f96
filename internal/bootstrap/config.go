package bootstrap

import (
	"fmt"

	"swapsmith/internal/config"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig delegates to the config loader and runs pre-flight checks
// beyond schema validation.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight fails startup on conditions the schema cannot express.
func checkPreFlight(cfg *Config) error {
	// The public client bundle is assembled at startup; a secret-named key
	// slipping into it must abort the process, not ship.
	if _, err := cfg.PublicClientConfig(); err != nil {
		return err
	}

	if cfg.Auth.JWKSURL == "" && cfg.Auth.HS256Secret == "" {
		return fmt.Errorf("auth requires either jwks_url or hs256_secret")
	}
	return nil
}
