package config

import (
	"context"
	"time"
)

// Config is the complete runtime configuration of tasktree.
type Config struct {
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	Engine     EngineConfig     `koanf:"engine"     validate:"required"`
	Expr       ExprConfig       `koanf:"expr"       validate:"required"`
	Definition DefinitionConfig `koanf:"definition" validate:"required"`
	Store      StoreConfig      `koanf:"store"`
	Server     ServerConfig     `koanf:"server"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// RuntimeConfig controls process-wide behavior such as logging.
type RuntimeConfig struct {
	LogLevel  string `koanf:"log_level"  validate:"log_level" env:"RUNTIME_LOG_LEVEL"`
	LogJSON   bool   `koanf:"log_json"                        env:"RUNTIME_LOG_JSON"`
	LogSource bool   `koanf:"log_source"                      env:"RUNTIME_LOG_SOURCE"`
}

// EngineConfig bounds the workflow driver.
type EngineConfig struct {
	MaxIteratorDepth int           `koanf:"max_iterator_depth" validate:"min=1" env:"ENGINE_MAX_ITERATOR_DEPTH"`
	DefaultLookahead int           `koanf:"default_lookahead"  validate:"min=1" env:"ENGINE_DEFAULT_LOOKAHEAD"`
	HaltOnManual     bool          `koanf:"halt_on_manual"                      env:"ENGINE_HALT_ON_MANUAL"`
	MaxRunSteps      int           `koanf:"max_run_steps"      validate:"min=1" env:"ENGINE_MAX_RUN_STEPS"`
	RunTimeout       time.Duration `koanf:"run_timeout"                         env:"ENGINE_RUN_TIMEOUT"`
}

// ExprConfig configures the condition evaluator.
type ExprConfig struct {
	CostLimit uint64 `koanf:"cost_limit" validate:"min=1" env:"EXPR_COST_LIMIT"`
	CacheSize int    `koanf:"cache_size" validate:"min=1" env:"EXPR_CACHE_SIZE"`
}

// DefinitionConfig configures the definition loader.
type DefinitionConfig struct {
	CacheSize int `koanf:"cache_size" validate:"min=1" env:"DEFINITION_CACHE_SIZE"`
}

// StoreConfig selects where workflow snapshots are saved. An empty RedisURL
// keeps them in process memory.
type StoreConfig struct {
	RedisURL    string        `koanf:"redis_url"                        env:"STORE_REDIS_URL"`
	KeyPrefix   string        `koanf:"key_prefix"   validate:"required" env:"STORE_KEY_PREFIX"`
	TTL         time.Duration `koanf:"ttl"                              env:"STORE_TTL"`
	PingTimeout time.Duration `koanf:"ping_timeout"                     env:"STORE_PING_TIMEOUT"`
	PingRetries uint64        `koanf:"ping_retries"                     env:"STORE_PING_RETRIES"`
}

// ServerConfig configures the HTTP API started by the serve command.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"SERVER_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"SERVER_PORT"`
	Definitions     string        `koanf:"definitions"                                 env:"SERVER_DEFINITIONS"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"                            env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// MonitoringConfig exposes driver metrics in Prometheus format.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
		Engine: EngineConfig{
			MaxIteratorDepth: 1000,
			DefaultLookahead: 2,
			HaltOnManual:     true,
			MaxRunSteps:      10000,
		},
		Expr: ExprConfig{
			CostLimit: 1000,
			CacheSize: 1000,
		},
		Definition: DefinitionConfig{
			CacheSize: 64,
		},
		Store: StoreConfig{
			KeyPrefix:   "tasktree:snapshot:",
			PingTimeout: 5 * time.Second,
			PingRetries: 3,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            5001,
			Definitions:     ".",
			ShutdownTimeout: 10 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Path: "/metrics",
		},
	}
}

// Service loads and validates configuration.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	GetSource(key string) SourceType
}

// Source is one layer of configuration values.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
	Close() error
}

// SourceType identifies where a configuration value came from.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Metadata records the source of each loaded key.
type Metadata struct {
	Sources  map[string]SourceType
	LoadedAt time.Time
}
