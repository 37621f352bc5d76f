// Package config loads the monitor daemon's process-wide configuration from
// environment variables (spec §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every env-driven setting the daemon needs to start.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Database
	DatabasePath string

	// Broker
	BrokerAPIKey         string
	BrokerAPISecret      string
	TokenEncryptKey      string
	BrokerRESTBaseURL    string
	MarketDataStreamURL  string
	PortfolioStreamURL   string
	CredentialRefreshWindow time.Duration

	// Market hours
	MarketTimezone string

	// Daemon cadence
	PollInterval     time.Duration
	ToleranceSeconds int

	// Stream backoff
	BackoffMinInterval time.Duration
	BackoffMaxInterval time.Duration

	// Candle buffer
	MaxCandlesPerBuffer int

	// Per-user subscription cap
	MaxInstrumentsPerUser int

	// Grace period before tearing down a user session whose active-rule
	// count has dropped to zero (spec §3's UserSession lifecycle).
	SessionTeardownGrace time.Duration

	// How long fire-log audit rows are kept before the maintenance
	// scheduler purges them.
	FireLogRetention time.Duration

	LogLevel string
}

// Load reads configuration from the process environment, falling back to a
// .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvAsInt("GO_PORT", 8001),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		DatabasePath:          getEnv("DATABASE_PATH", "./data/monitor.db"),
		BrokerAPIKey:          getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret:       getEnv("BROKER_API_SECRET", ""),
		TokenEncryptKey:       getEnv("TOKEN_ENCRYPT_KEY", ""),
		BrokerRESTBaseURL:     getEnv("BROKER_REST_BASE_URL", "https://api.broker.example/v1"),
		MarketDataStreamURL:   getEnv("MARKET_DATA_STREAM_URL", "wss://streamer.broker.example/v3/ticker"),
		PortfolioStreamURL:    getEnv("PORTFOLIO_STREAM_URL", "wss://streamer.broker.example/v3/portfolio"),
		CredentialRefreshWindow: getEnvAsDuration("CREDENTIAL_REFRESH_WINDOW", 5*time.Minute),
		MarketTimezone:        getEnv("MARKET_TIMEZONE", "Asia/Kolkata"),
		PollInterval:          getEnvAsDuration("POLL_INTERVAL", 30*time.Second),
		ToleranceSeconds:      getEnvAsInt("TOLERANCE_SECONDS", 60),
		BackoffMinInterval:    getEnvAsDuration("BACKOFF_MIN_INTERVAL", time.Second),
		BackoffMaxInterval:    getEnvAsDuration("BACKOFF_MAX_INTERVAL", 60*time.Second),
		MaxCandlesPerBuffer:   getEnvAsInt("MAX_CANDLES_PER_BUFFER", 200),
		MaxInstrumentsPerUser: getEnvAsInt("MAX_INSTRUMENTS_PER_USER", 200),
		SessionTeardownGrace:  getEnvAsDuration("SESSION_TEARDOWN_GRACE", 60*time.Second),
		FireLogRetention:      getEnvAsDuration("FIRE_LOG_RETENTION", 90*24*time.Hour),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("MARKET_TIMEZONE %q: %w", c.MarketTimezone, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
