package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds raw env values that take precedence over the config file.
type envOverrides struct {
	DBPath      string `env:"PATCHROULETTE_DB_PATH"`
	HTTPBind    string `env:"PATCHROULETTE_HTTP_BIND"`
	APIEndpoint string `env:"PATCHROULETTE_API_ENDPOINT"`
	MCPEndpoint string `env:"PATCHROULETTE_MCP_ENDPOINT"`
	LogLevel    string `env:"PATCHROULETTE_LOG_LEVEL"`
	LogFile     string `env:"PATCHROULETTE_LOG_FILE"`
	// Pointer so an explicit zero is distinguishable from unset.
	ActivityLimit *int `env:"PATCHROULETTE_ACTIVITY_LIMIT"`
}

// ApplyEnv overlays PATCHROULETTE_* environment variables onto cfg and re-validates it.
func ApplyEnv(cfg Config) (Config, error) {
	return applyEnv(cfg, env.Options{})
}

func applyEnv(cfg Config, opts env.Options) (Config, error) {
	var raw envOverrides
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if v := strings.TrimSpace(raw.DBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(raw.HTTPBind); v != "" {
		cfg.Server.HTTPBind = v
	}
	if v := strings.TrimSpace(raw.APIEndpoint); v != "" {
		cfg.Server.APIEndpoint = v
	}
	if v := strings.TrimSpace(raw.MCPEndpoint); v != "" {
		cfg.Server.MCPEndpoint = v
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.Logging.File = v
	}
	if raw.ActivityLimit != nil {
		cfg.Activity.DefaultLimit = *raw.ActivityLimit
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
