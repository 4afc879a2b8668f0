// Package config loads the engine configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/spf13/viper"
)

// Load reads configuration from the optional file at path (YAML) plus
// ALLOC_-prefixed environment variables, with sane defaults for everything.
func Load(path string) (*types.Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.in_memory", false)

	v.SetDefault("engine.operator", "operator")
	v.SetDefault("engine.min_confidence_bps", 0)
	v.SetDefault("engine.max_data_age", 0)
	v.SetDefault("engine.min_rebalance_interval", 0)
	v.SetDefault("engine.global_risk_multiplier_pct", 0)

	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("ALLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	if cfg.Engine.Operator == "" {
		return fmt.Errorf("config: engine operator must be set")
	}
	if cfg.Engine.MinConfidenceBps > types.BpsScale {
		return fmt.Errorf("config: min confidence %d exceeds %d bps",
			cfg.Engine.MinConfidenceBps, types.BpsScale)
	}
	if !cfg.Store.InMemory && cfg.Store.DataDir == "" {
		return fmt.Errorf("config: data dir must be set for persistent store")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	return nil
}
