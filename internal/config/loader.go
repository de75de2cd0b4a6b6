// Package config defines tidekv's configuration structure.
package config

import (
	"fmt"

	"github.com/tidekv/tidekv/internal/infra/confloader"
)

// Load builds the effective Config from defaults, an optional YAML file,
// and TIDEKV_-prefixed environment variables (env overrides file,
// matching confloader.Loader's priority), then validates the result.
func Load(dataDir, configFile string) (*Config, error) {
	cfg := Default(dataDir)

	loader := confloader.NewLoader(
		confloader.WithEnvPrefix(confloader.DefaultEnvPrefix),
		confloader.WithConfigFile(configFile),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}
