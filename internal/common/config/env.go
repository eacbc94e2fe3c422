package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "ADMINX_"

// ApplyEnv overrides configuration values from ADMINX_* environment variables.
// Unset variables leave the YAML values untouched.
func ApplyEnv(cfg *GatewayConfig) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
