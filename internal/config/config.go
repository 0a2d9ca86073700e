package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server
	ServerAddr     string
	Env            string // "development" or "production"
	LogLevel       slog.Level
	AllowedOrigins []string // empty allows any origin in development

	// Redis (for PubSub horizontal scaling)
	RedisURL   string // e.g., "redis://localhost:6379"
	PubSubType string // "memory" or "redis"

	// Call tokens
	CallTokenSigningKey string
	CallTokenTTL        time.Duration

	// Turn coordination
	TurnDebounce     time.Duration
	TurnAIFirst      bool
	TurnInputMode    domain.InputMode
	TurnNotifyBuffer int

	// Local voice activity heuristic
	VADSpeechThreshold  float64
	VADSilenceThreshold float64
	VADStartFrames      int
	VADStopFrames       int

	// Rate limits, requests or events per minute
	RateLimitPerMin   int
	WSRateLimitPerMin int

	MetricsEnabled bool
}

// Load reads configuration from environment variables.
// In production, these come from the host. In dev, from .env via docker-compose.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", "0.0.0.0:8080"),
		Env:            getEnvOrDefault("APP_ENV", "development"),
		AllowedOrigins: splitEnv("ALLOWED_ORIGINS", ""),
		RedisURL:       os.Getenv("REDIS_URL"),
		PubSubType:     getEnvOrDefault("PUBSUB_TYPE", "memory"),
		TurnInputMode:  domain.InputMode(getEnvOrDefault("TURN_INPUT_MODE", string(domain.InputModeMessages))),

		CallTokenSigningKey: os.Getenv("CALL_TOKEN_SIGNING_KEY"),
	}

	var err error
	if cfg.LogLevel, err = getLogLevel("LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}
	if cfg.CallTokenTTL, err = getDuration("CALL_TOKEN_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TurnDebounce, err = getDuration("TURN_DEBOUNCE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TurnAIFirst, err = getBool("TURN_AI_FIRST", false); err != nil {
		return nil, err
	}
	if cfg.TurnNotifyBuffer, err = getInt("TURN_NOTIFY_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.VADSpeechThreshold, err = getFloat("VAD_SPEECH_THRESHOLD", 0.015); err != nil {
		return nil, err
	}
	if cfg.VADSilenceThreshold, err = getFloat("VAD_SILENCE_THRESHOLD", 0.008); err != nil {
		return nil, err
	}
	if cfg.VADStartFrames, err = getInt("VAD_START_FRAMES", 3); err != nil {
		return nil, err
	}
	if cfg.VADStopFrames, err = getInt("VAD_STOP_FRAMES", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMin, err = getInt("RATE_LIMIT_PER_MIN", 600); err != nil {
		return nil, err
	}
	if cfg.WSRateLimitPerMin, err = getInt("WS_RATE_LIMIT_PER_MIN", 6000); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.CallTokenSigningKey) < 32 {
		return fmt.Errorf("CALL_TOKEN_SIGNING_KEY must be at least 32 characters")
	}
	switch c.PubSubType {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PUBSUB_TYPE=redis")
		}
	default:
		return fmt.Errorf("PUBSUB_TYPE must be memory or redis, got %q", c.PubSubType)
	}
	if !c.TurnInputMode.Valid() {
		return fmt.Errorf("TURN_INPUT_MODE must be messages or heuristic, got %q", c.TurnInputMode)
	}
	if c.TurnDebounce <= 0 {
		return fmt.Errorf("TURN_DEBOUNCE must be positive")
	}
	if c.TurnNotifyBuffer <= 0 {
		return fmt.Errorf("TURN_NOTIFY_BUFFER must be positive")
	}
	if c.RateLimitPerMin <= 0 || c.WSRateLimitPerMin <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// splitEnv splits a comma-separated env var into a slice
func splitEnv(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getLogLevel(key string, defaultVal slog.Level) (slog.Level, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return level, nil
}
