package snapstore

import (
	"time"

	"github.com/compozy/tasktree/pkg/config"
)

const (
	DefaultKeyPrefix   = "tasktree:snapshot:"
	defaultPingTimeout = 5 * time.Second
)

type Config struct {
	URL         string
	KeyPrefix   string
	TTL         time.Duration
	PingTimeout time.Duration
	PingRetries uint64
}

// FromAppConfig builds the store settings from the application configuration.
func FromAppConfig(cfg *config.Config) *Config {
	return &Config{
		URL:         cfg.Store.RedisURL,
		KeyPrefix:   cfg.Store.KeyPrefix,
		TTL:         cfg.Store.TTL,
		PingTimeout: cfg.Store.PingTimeout,
		PingRetries: cfg.Store.PingRetries,
	}
}
