package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all service configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Chain node
	NodeWSSURL           string        `env:"NODE_WSS_URL,required"`
	MaxReconnectAttempts int           `env:"NODE_MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	ReconnectDelay       time.Duration `env:"NODE_RECONNECT_DELAY" envDefault:"5s"`

	// Fan-out server
	Addr           string `env:"WS_ADDR" envDefault:":3002"`
	MaxConnections int    `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`

	// Connection rate limiting (DoS protection on the upgrade path)
	ConnRateLimitEnabled     bool    `env:"WS_CONN_RATE_LIMIT_ENABLED" envDefault:"false"`
	ConnRateLimitIPBurst     int     `env:"WS_CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"WS_CONN_RATE_LIMIT_IP_RATE" envDefault:"2"`
	ConnRateLimitGlobalBurst int     `env:"WS_CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"200"`
	ConnRateLimitGlobalRate  float64 `env:"WS_CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50"`

	// Downstream confirmation consumer (optional; emitter is disabled when empty)
	NatsURL string `env:"NATS_URL"`

	// Price engine
	PriceUpdateThreshold  float64       `env:"PRICE_UPDATE_THRESHOLD" envDefault:"0.001"`
	UpdateBnbPriceEvery   time.Duration `env:"BNB_PRICE_INTERVAL" envDefault:"60s"`
	AgentPriceCacheTTL    time.Duration `env:"AGENT_PRICE_CACHE_TTL" envDefault:"10s"`
	DefaultBnbPriceUSD    float64       `env:"DEFAULT_BNB_PRICE_USD" envDefault:"600"`
	PriceCoalesceWindow   time.Duration `env:"PRICE_COALESCE_WINDOW" envDefault:"100ms"`
	PendingSwapTimeout    time.Duration `env:"PENDING_SWAP_TIMEOUT" envDefault:"5m"`
	HeartbeatInterval     time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	StaleSessionTimeout   time.Duration `env:"STALE_SESSION_TIMEOUT" envDefault:"60s"`
	StaleReaperInterval   time.Duration `env:"STALE_REAPER_INTERVAL" envDefault:"30s"`
	BackgroundWorkerCount int           `env:"BACKGROUND_WORKERS" envDefault:"8"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"NODE_ENV" envDefault:"development"`
}

// Load reads configuration from an optional .env file and environment
// variables. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production passes env vars directly.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.NodeWSSURL == "" {
		return fmt.Errorf("NODE_WSS_URL is required")
	}
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("NODE_MAX_RECONNECT_ATTEMPTS must be > 0, got %d", c.MaxReconnectAttempts)
	}
	if c.PriceUpdateThreshold < 0 || c.PriceUpdateThreshold > 1 {
		return fmt.Errorf("PRICE_UPDATE_THRESHOLD must be 0-1, got %f", c.PriceUpdateThreshold)
	}
	if c.StaleSessionTimeout <= c.StaleReaperInterval {
		return fmt.Errorf("STALE_SESSION_TIMEOUT (%s) must be > STALE_REAPER_INTERVAL (%s)",
			c.StaleSessionTimeout, c.StaleReaperInterval)
	}
	if c.BackgroundWorkerCount < 1 {
		return fmt.Errorf("BACKGROUND_WORKERS must be > 0, got %d", c.BackgroundWorkerCount)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("node_wss_url", c.NodeWSSURL).
		Str("nats_url", c.NatsURL).
		Int("max_connections", c.MaxConnections).
		Int("max_reconnect_attempts", c.MaxReconnectAttempts).
		Dur("reconnect_delay", c.ReconnectDelay).
		Float64("price_update_threshold", c.PriceUpdateThreshold).
		Dur("bnb_price_interval", c.UpdateBnbPriceEvery).
		Dur("agent_price_cache_ttl", c.AgentPriceCacheTTL).
		Dur("pending_swap_timeout", c.PendingSwapTimeout).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("stale_session_timeout", c.StaleSessionTimeout).
		Int("background_workers", c.BackgroundWorkerCount).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Service configuration loaded")
}
