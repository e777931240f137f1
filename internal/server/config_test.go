package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomhub/internal/frame"
	"github.com/Tyrowin/roomhub/internal/store"
)

// TestNewConfigDefaults verifies the defaults a fresh Config starts with.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: time.Second}, cfg.RateLimit)
	assert.Equal(t, frame.CodecGorilla, cfg.FrameCodec)
	assert.Equal(t, 30*time.Second, cfg.JoinGracePeriod)
	assert.Equal(t, store.DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, 50, cfg.PollDefaultLimit)
	assert.Equal(t, 100, cfg.PollMaxLimit)
	assert.True(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Validate())
}

// TestSanitizeConfig verifies that zero and out-of-range values fall back
// to defaults while valid values survive.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Port:             "9090",
		FrameCodec:       "carrier-pigeon",
		PollDefaultLimit: 500,
		PollMaxLimit:     20,
		RateLimit:        RateLimitConfig{Burst: -1},
	})

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, frame.CodecGorilla, cfg.FrameCodec)
	assert.Equal(t, 20, cfg.PollMaxLimit)
	assert.Equal(t, 20, cfg.PollDefaultLimit)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	raw := sanitizeConfig(Config{FrameCodec: frame.CodecRaw})
	assert.Equal(t, frame.CodecRaw, raw.FrameCodec)
}

// TestNewConfigFromEnv verifies that every supported variable is read and
// that malformed values keep their defaults.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("FRAME_CODEC", "RAW")
	t.Setenv("RAW_SOCKET_ADDR", ":9001")
	t.Setenv("JOIN_GRACE_PERIOD", "1500ms")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/roomhub")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("POLL_DEFAULT_LIMIT", "25")
	t.Setenv("POLL_MAX_LIMIT", "75")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Equal(t, frame.CodecRaw, cfg.FrameCodec)
	assert.Equal(t, ":9001", cfg.RawSocketAddr)
	assert.Equal(t, 1500*time.Millisecond, cfg.JoinGracePeriod)
	assert.Equal(t, store.DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, "postgres://localhost/roomhub", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "s3cret", cfg.AuthJWTSecret)
	assert.Equal(t, 25, cfg.PollDefaultLimit)
	assert.Equal(t, 75, cfg.PollMaxLimit)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.IsDevelopment())
}

// TestProductionRequiresDatabase verifies that production refuses to fall
// back to the local sqlite file.
func TestProductionRequiresDatabase(t *testing.T) {
	t.Setenv("ENV", EnvProduction)
	t.Setenv("DATABASE_URL", "")

	cfg := NewConfigFromEnv()
	assert.ErrorIs(t, cfg.Validate(), ErrDatabaseRequired)
}

// TestOriginPolicy verifies origin normalization and matching, including
// the wildcard and malformed headers.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://LocalHost:8080", "not a url", " "}, zerolog.Nop())

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"exact match", "http://localhost:8080", true},
		{"case insensitive", "http://LOCALHOST:8080", true},
		{"path ignored", "http://localhost:8080/chat", true},
		{"other port", "http://localhost:9090", false},
		{"other scheme", "https://localhost:8080", false},
		{"missing header", "", false},
		{"malformed header", "localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
			require.NoError(t, err)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, policy.check(req))
		})
	}

	wildcard := newOriginPolicy([]string{"*"}, zerolog.Nop())
	req, err := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, wildcard.check(req))
}

// TestRateLimiterRefill verifies the token bucket drains after a burst and
// refills with time.
func TestRateLimiterRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow())

	now = now.Add(time.Second)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "refilled token %d", i)
	}
	assert.False(t, rl.allow())
}
