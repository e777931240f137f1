// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the roomhub service.
package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomhub/internal/frame"
	"github.com/Tyrowin/roomhub/internal/polling"
	"github.com/Tyrowin/roomhub/internal/store"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// FrameCodec selects the socket implementation: "gorilla" or "raw".
	FrameCodec string
	// RawSocketAddr, when set, serves the hand-rolled handshake on a bare
	// TCP listener next to the HTTP server.
	RawSocketAddr   string
	JoinGracePeriod time.Duration

	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string
	AuthJWTSecret  string

	PollDefaultLimit int
	PollMaxLimit     int
	ShutdownTimeout  time.Duration
}

// ErrDatabaseRequired is returned by Validate in production when no
// database is configured.
var ErrDatabaseRequired = errors.New("DATABASE_URL is required in production")

func defaultConfig() Config {
	return Config{
		Env:  EnvDevelopment,
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		FrameCodec:       frame.CodecGorilla,
		JoinGracePeriod:  30 * time.Second,
		DatabaseDriver:   store.DriverSQLite,
		DatabaseURL:      "roomhub.db",
		PollDefaultLimit: polling.DefaultLimit,
		PollMaxLimit:     polling.MaxLimit,
		ShutdownTimeout:  30 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Env == "" {
		cfg.Env = def.Env
	}

	if cfg.Port == "" {
		cfg.Port = def.Port
	} else if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.FrameCodec != frame.CodecRaw {
		cfg.FrameCodec = frame.CodecGorilla
	}

	if cfg.JoinGracePeriod <= 0 {
		cfg.JoinGracePeriod = def.JoinGracePeriod
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = def.DatabaseDriver
	}

	if cfg.PollMaxLimit <= 0 {
		cfg.PollMaxLimit = def.PollMaxLimit
	}

	if cfg.PollDefaultLimit <= 0 || cfg.PollDefaultLimit > cfg.PollMaxLimit {
		cfg.PollDefaultLimit = min(def.PollDefaultLimit, cfg.PollMaxLimit)
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// loading a .env file first when one exists. Falls back to default values
// if environment variables are not set.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if codec := os.Getenv("FRAME_CODEC"); codec != "" {
		cfg.FrameCodec = strings.ToLower(strings.TrimSpace(codec))
	}

	cfg.RawSocketAddr = os.Getenv("RAW_SOCKET_ADDR")

	if grace := os.Getenv("JOIN_GRACE_PERIOD"); grace != "" {
		cfg.JoinGracePeriod = parseSeconds(grace, cfg.JoinGracePeriod)
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(driver))
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	} else if cfg.Env == EnvProduction {
		cfg.DatabaseURL = ""
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")

	if limit := os.Getenv("POLL_DEFAULT_LIMIT"); limit != "" {
		cfg.PollDefaultLimit = parseIntValue(limit, cfg.PollDefaultLimit)
	}

	if limit := os.Getenv("POLL_MAX_LIMIT"); limit != "" {
		cfg.PollMaxLimit = parseIntValue(limit, cfg.PollMaxLimit)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	cfg = sanitizeConfig(cfg)
	return &cfg
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	if c.Env == EnvProduction && c.DatabaseURL == "" {
		return ErrDatabaseRequired
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a whole number of seconds or a Go duration
// string such as "1500ms".
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
