// Package config loads and validates runtime configuration for the agent.
// Configuration comes from a YAML file with environment variable overrides;
// every knob has a sensible default so an empty file is a valid config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Model    ModelConfig    `mapstructure:"model"`
	Database DatabaseConfig `mapstructure:"database"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Export   ExportConfig   `mapstructure:"export"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxSteps       int    `mapstructure:"max_steps"`       // reasoning steps per turn, <=0 uses default 10
	HistoryWindow  int    `mapstructure:"history_window"`  // messages exposed to the model, <=0 means full history
	ToolTimeout    string `mapstructure:"tool_timeout"`    // per-invocation bound, e.g. "30s"
	StorageRetries int    `mapstructure:"storage_retries"` // append retries before degrading, <0 uses default 2
}

// ModelConfig selects the reasoning provider.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai | anthropic
	Name        string  `mapstructure:"name"`     // provider-specific model id
	APIKey      string  `mapstructure:"api_key"`  // supports ${ENV_VAR} indirection
	Temperature float64 `mapstructure:"temperature"`
}

// DatabaseConfig points the query tools at the target database.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Dialect  string `mapstructure:"dialect"`   // reported to the model, e.g. "postgresql"
	MaxConns int32  `mapstructure:"max_conns"` // pool size, <=0 uses pgx default
}

// MemoryConfig selects the conversation store backend.
type MemoryConfig struct {
	Type      string `mapstructure:"type"` // memory | postgres | redis
	DSN       string `mapstructure:"dsn"`  // Postgres connection string, type=postgres only
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// ExportConfig governs generated files (charts, CSV exports, reports).
type ExportConfig struct {
	Dir             string `mapstructure:"dir"`              // filesystem root for artifacts
	ArtifactTTL     string `mapstructure:"artifact_ttl"`     // e.g. "24h", empty disables expiry
	CleanupInterval string `mapstructure:"cleanup_interval"` // janitor period, e.g. "1h"
	DownloadPrefix  string `mapstructure:"download_prefix"`  // prefix for reference strings, default "/downloads"
	UnidocLicense   string `mapstructure:"unidoc_license"`   // unipdf metered key for create_report, supports ${ENV_VAR}
}

// TraceConfig governs per-turn trace persistence.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // memory | postgres
	DSN     string `mapstructure:"dsn"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"` // listen address, default ":9090"
}

// Load reads the config file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUERYCHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	resolveEnvRefs(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every field at its default value.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.history_window", 40)
	v.SetDefault("agent.tool_timeout", "30s")
	v.SetDefault("agent.storage_retries", 2)
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("database.dialect", "postgresql")
	v.SetDefault("memory.type", "memory")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.artifact_ttl", "24h")
	v.SetDefault("export.cleanup_interval", "1h")
	v.SetDefault("export.download_prefix", "/downloads")
	v.SetDefault("trace.type", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.addr", ":9090")
}

// resolveEnvRefs replaces ${ENV_VAR} values with the environment's content.
func resolveEnvRefs(cfg *Config) {
	cfg.Model.APIKey = expandEnvRef(cfg.Model.APIKey)
	cfg.Database.DSN = expandEnvRef(cfg.Database.DSN)
	cfg.Memory.DSN = expandEnvRef(cfg.Memory.DSN)
	cfg.Trace.DSN = expandEnvRef(cfg.Trace.DSN)
	cfg.Export.UnidocLicense = expandEnvRef(cfg.Export.UnidocLicense)
}

func expandEnvRef(val string) string {
	if !strings.HasPrefix(val, "${") || !strings.HasSuffix(val, "}") {
		return val
	}
	name := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
	if resolved := os.Getenv(name); resolved != "" {
		return resolved
	}
	return val
}

// Validate checks cross-field consistency. Defaults are applied before
// validation so only genuinely contradictory configs fail.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	switch c.Memory.Type {
	case "memory":
	case "postgres":
		if c.Memory.DSN == "" {
			return fmt.Errorf("config: memory.dsn required when memory.type=postgres")
		}
	case "redis":
		if c.Memory.RedisAddr == "" {
			return fmt.Errorf("config: memory.redis_addr required when memory.type=redis")
		}
	default:
		return fmt.Errorf("config: unknown memory type %q", c.Memory.Type)
	}
	if c.Trace.Enabled && c.Trace.Type == "postgres" && c.Trace.DSN == "" {
		return fmt.Errorf("config: trace.dsn required when trace.type=postgres")
	}
	if _, err := c.ToolTimeout(); err != nil {
		return fmt.Errorf("config: invalid agent.tool_timeout: %w", err)
	}
	if _, err := c.ArtifactTTL(); err != nil {
		return fmt.Errorf("config: invalid export.artifact_ttl: %w", err)
	}
	if _, err := c.CleanupInterval(); err != nil {
		return fmt.Errorf("config: invalid export.cleanup_interval: %w", err)
	}
	return nil
}

// ToolTimeout parses the per-invocation tool bound. Zero means no bound.
func (c *Config) ToolTimeout() (time.Duration, error) {
	return parseDuration(c.Agent.ToolTimeout)
}

// ArtifactTTL parses the artifact expiry horizon. Zero disables expiry.
func (c *Config) ArtifactTTL() (time.Duration, error) {
	return parseDuration(c.Export.ArtifactTTL)
}

// CleanupInterval parses the janitor period.
func (c *Config) CleanupInterval() (time.Duration, error) {
	return parseDuration(c.Export.CleanupInterval)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
