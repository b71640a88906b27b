// Package config validates environment configuration at startup. Every knob
// the engine recognizes lives here so the rest of the code never reads the
// environment directly.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Engine tuning defaults.
const (
	DefaultMaxConnectionsPerIdentity = 5
	DefaultCountdownDuration         = 5 * time.Second
	DefaultTestSessionTTL            = 10 * time.Minute
	DefaultRaceWaitingTTL            = 60 * time.Minute
	DefaultKeystrokeLogCap           = 10000
	DefaultStatsBroadcastInterval    = 100 * time.Millisecond
	DefaultMaxWPMCeiling             = 300
	DefaultSendQueueMaxMessages      = 256
	DefaultSendQueueMaxBytes         = 1 << 20

	MinCountdownDuration = 3 * time.Second
	MaxCountdownDuration = 10 * time.Second
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Handshake rate limits (ulule/limiter formatted, e.g. "10-M")
	RateLimitWsIP string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string

	// Engine tuning
	MaxConnectionsPerIdentity int
	CountdownDuration         time.Duration
	TestSessionTTL            time.Duration
	RaceWaitingTTL            time.Duration
	KeystrokeLogCap           int
	StatsBroadcastInterval    time.Duration
	MaxWPMCeiling             float64
	SendQueueMaxMessages      int
	SendQueueMaxBytes         int
}

// ValidateEnv validates all recognized environment variables and returns a
// Config object. Returns an error if any required variable is missing or any
// provided value is out of bounds.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "10-M")

	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	cfg.OtelCollectorAddr = getEnvOrDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	// Engine tuning knobs. All optional; out-of-bounds values fail
	// validation rather than being clamped.
	cfg.MaxConnectionsPerIdentity = getEnvInt("MAX_CONNECTIONS_PER_IDENTITY", DefaultMaxConnectionsPerIdentity, &errs)
	if cfg.MaxConnectionsPerIdentity < 1 {
		errs = append(errs, "MAX_CONNECTIONS_PER_IDENTITY must be at least 1")
	}

	cfg.CountdownDuration = getEnvDurationMs("COUNTDOWN_DURATION_MS", DefaultCountdownDuration, &errs)
	if cfg.CountdownDuration < MinCountdownDuration || cfg.CountdownDuration > MaxCountdownDuration {
		errs = append(errs, fmt.Sprintf("COUNTDOWN_DURATION_MS must be between %d and %d",
			MinCountdownDuration.Milliseconds(), MaxCountdownDuration.Milliseconds()))
	}

	cfg.TestSessionTTL = getEnvDurationMs("TEST_SESSION_TTL_MS", DefaultTestSessionTTL, &errs)
	cfg.RaceWaitingTTL = getEnvDurationMs("RACE_WAITING_TTL_MS", DefaultRaceWaitingTTL, &errs)
	cfg.StatsBroadcastInterval = getEnvDurationMs("STATS_BROADCAST_MIN_INTERVAL_MS", DefaultStatsBroadcastInterval, &errs)

	cfg.KeystrokeLogCap = getEnvInt("KEYSTROKE_LOG_CAP", DefaultKeystrokeLogCap, &errs)
	if cfg.KeystrokeLogCap < 100 {
		errs = append(errs, "KEYSTROKE_LOG_CAP must be at least 100")
	}

	cfg.MaxWPMCeiling = float64(getEnvInt("MAX_WPM_PLAUSIBILITY_CEILING", DefaultMaxWPMCeiling, &errs))
	cfg.SendQueueMaxMessages = getEnvInt("SEND_QUEUE_MAX_MESSAGES", DefaultSendQueueMaxMessages, &errs)
	cfg.SendQueueMaxBytes = getEnvInt("SEND_QUEUE_MAX_BYTES", DefaultSendQueueMaxBytes, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"max_connections_per_identity", cfg.MaxConnectionsPerIdentity,
		"countdown_duration", cfg.CountdownDuration,
		"test_session_ttl", cfg.TestSessionTTL,
		"race_waiting_ttl", cfg.RaceWaitingTTL,
		"keystroke_log_cap", cfg.KeystrokeLogCap,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}

func getEnvDurationMs(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative integer of milliseconds (got '%s')", key, value))
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
