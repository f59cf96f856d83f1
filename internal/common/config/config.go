// Package config provides configuration management for Iris.
// It supports loading configuration from environment variables, a YAML
// config file, and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iris-mcp/iris/internal/common/ierrors"
)

// Config aggregates every configuration section Iris needs.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Teams    TeamsConfig    `mapstructure:"teams"`
}

// ServerConfig controls the listen ports: Port serves the MCP tool surface
// and Port+1 the debug/health HTTP+WS surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig controls the SessionStore backing store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite3 or pgx
	Path     string `mapstructure:"path"`   // sqlite file path
	DSN      string `mapstructure:"dsn"`    // postgres DSN, used when driver==pgx
	DataDir  string `mapstructure:"dataDir"` // per-session resume artifacts
}

// PoolConfig bounds the ProcessPool.
type PoolConfig struct {
	MaxProcesses        int           `mapstructure:"maxProcesses"`
	HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"`
}

// TimeoutConfig holds every timeout named in spec §4/§5.
type TimeoutConfig struct {
	SpawnTimeout       time.Duration `mapstructure:"spawnTimeout"`
	SessionInitTimeout time.Duration `mapstructure:"sessionInitTimeout"`
	ResponseTimeout    time.Duration `mapstructure:"responseTimeout"`
	PermissionTimeout  time.Duration `mapstructure:"permissionTimeout"`
	TerminateGrace     time.Duration `mapstructure:"terminateGrace"`
}

// LoggingConfig controls the zap-backed logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// NATSConfig controls the optional distributed event bus. Empty URL means
// the in-memory bus is used instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// TeamsConfig points at the team catalog.
type TeamsConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8383)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "./iris.db")
	v.SetDefault("database.dataDir", "./iris-data")

	v.SetDefault("pool.maxProcesses", 8)
	v.SetDefault("pool.healthCheckInterval", 15*time.Second)

	v.SetDefault("timeouts.spawnTimeout", 30*time.Second)
	v.SetDefault("timeouts.sessionInitTimeout", 30*time.Second)
	v.SetDefault("timeouts.responseTimeout", 120*time.Second)
	v.SetDefault("timeouts.permissionTimeout", 60*time.Second)
	v.SetDefault("timeouts.terminateGrace", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "iris")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "iris")

	v.SetDefault("teams.path", "./teams.yaml")
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from configPath (if non-empty), falling
// back to "." and "/etc/iris/".
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/iris/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite3":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite3 driver")
		}
	case "pgx":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for pgx driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite3, pgx")
	}

	if cfg.Pool.MaxProcesses <= 0 {
		errs = append(errs, "pool.maxProcesses must be positive")
	}
	if cfg.Timeouts.ResponseTimeout <= 0 {
		errs = append(errs, "timeouts.responseTimeout must be positive")
	}
	if cfg.Timeouts.SpawnTimeout <= 0 {
		errs = append(errs, "timeouts.spawnTimeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return ierrors.Configuration("%s", strings.Join(errs, "; "))
	}
	return nil
}
