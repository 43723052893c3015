package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"APP_ENV" envDefault:"development"`

	RedisURL  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	// family=baseURL pairs, e.g. "honor=https://honor.example,invest=https://invest.example"
	ProviderEndpoints   map[string]string `env:"PROVIDER_ENDPOINTS" envSeparator:"," envKeyValSeparator:"="`
	ProviderMerchantID  string            `env:"PROVIDER_MERCHANT_ID"`
	ProviderMerchantKey string            `env:"PROVIDER_MERCHANT_KEY"`
	GatewayTimeout      time.Duration     `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	WatcherMode     string        `env:"WATCHER_MODE" envDefault:"heartbeat"`
	WatcherInterval time.Duration `env:"WATCHER_INTERVAL" envDefault:"2s"`
	HeartbeatTTL    time.Duration `env:"HEARTBEAT_TTL" envDefault:"15s"`
	UserLockTTL     time.Duration `env:"USER_LOCK_TTL" envDefault:"30s"`
	LaunchRateLimit int           `env:"LAUNCH_RATE_LIMIT" envDefault:"30"`

	// A ready session whose surface was never opened is ended after this long.
	UnopenedSessionTTL time.Duration `env:"UNOPENED_SESSION_TTL" envDefault:"30m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.WatcherMode = strings.ToLower(strings.TrimSpace(cfg.WatcherMode))
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errConfig("database url required")
	}
	if c.JWTSecret == "" {
		return errConfig("jwt secret required")
	}
	switch c.WatcherMode {
	case "poll", "heartbeat", "event":
	default:
		return errConfig(fmt.Sprintf("unknown watcher mode %q", c.WatcherMode))
	}
	if c.GatewayTimeout <= 0 {
		return errConfig("gateway timeout must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

type errConfig string

func (e errConfig) Error() string { return string(e) }
