package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	defaultPort              = "8080"
	defaultDBPath            = "data/vow.db"
	defaultLogLevel          = "info"
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 20 * time.Second
	defaultStrokeThrottle    = 100 * time.Millisecond
	defaultSessionTTL        = 24 * time.Hour
	defaultStoreTimeout      = 5 * time.Second
	defaultSweepInterval     = 10 * time.Minute
	defaultMaxWriteAttempts  = 3
)

// ErrInvalidHeartbeat is returned when the heartbeat timeout would evict clients
// before their first probe could be answered.
var ErrInvalidHeartbeat = errors.New("HEARTBEAT_TIMEOUT must be greater than HEARTBEAT_INTERVAL")

type Config struct {
	// Server
	Port    string
	GinMode string

	// Storage
	DBPath string

	// Logging
	LogLevel   string
	LogFile    string
	LogConsole bool

	// Realtime
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	StrokeThrottle    time.Duration
	StoreTimeout      time.Duration
	MaxWriteAttempts  int

	// Sessions
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	return Config{
		Port:    getEnv("PORT", defaultPort),
		GinMode: getEnv("GIN_MODE", "release"),

		DBPath: getEnv("DB_PATH", defaultDBPath),

		LogLevel:   getEnv("LOG_LEVEL", defaultLogLevel),
		LogFile:    os.Getenv("LOG_FILE"),
		LogConsole: parseBoolEnv("LOG_CONSOLE", true),

		HeartbeatInterval: parseDurationEnv("HEARTBEAT_INTERVAL", defaultHeartbeatInterval),
		HeartbeatTimeout:  parseDurationEnv("HEARTBEAT_TIMEOUT", defaultHeartbeatTimeout),
		StrokeThrottle:    parseDurationEnv("STROKE_THROTTLE", defaultStrokeThrottle),
		StoreTimeout:      parseDurationEnv("STORE_TIMEOUT", defaultStoreTimeout),
		MaxWriteAttempts:  parsePositiveIntEnv("MAX_WRITE_ATTEMPTS", defaultMaxWriteAttempts),

		SessionTTL:    parseDurationEnv("SESSION_TTL", defaultSessionTTL),
		SweepInterval: parseDurationEnv("SESSION_SWEEP_INTERVAL", defaultSweepInterval),
	}
}

// Validate checks relations between settings that are each valid on their own.
func (c Config) Validate() error {
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w (interval %s, timeout %s)", ErrInvalidHeartbeat, c.HeartbeatInterval, c.HeartbeatTimeout)
	}
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("Invalid duration, using default")
		return defaultValue
	}
	return d
}

func parsePositiveIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		log.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).Msg("Invalid integer, using default")
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
