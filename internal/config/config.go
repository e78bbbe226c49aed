package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Activity ActivityConfig `toml:"activity"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type LoggingConfig struct {
	Level      string `toml:"level"` // debug | info | warn | error
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type ActivityConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Activity: ActivityConfig{
			DefaultLimit: 50,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	api := "/" + strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := "/" + strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api == mcp {
		return fmt.Errorf("server.api_endpoint and server.mcp_endpoint must differ: %q", api)
	}

	level := strings.TrimSpace(strings.ToLower(c.Logging.Level))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q (want one of %s)", c.Logging.Level, strings.Join(validLogLevels, ", "))
	}
	if c.Logging.MaxSizeMB < 0 {
		return errors.New("logging.max_size_mb must be >= 0")
	}
	if c.Logging.MaxBackups < 0 {
		return errors.New("logging.max_backups must be >= 0")
	}
	if c.Activity.DefaultLimit <= 0 {
		return errors.New("activity.default_limit must be > 0")
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
