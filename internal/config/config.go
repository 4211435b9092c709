// Package config loads RelayGate's runtime configuration from the
// environment, the way the teacher repo's internal/config reads
// HTTP_PORT/TURN_PORT/etc. with getEnv/getEnvInt helpers and baked-in
// defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config is the fully resolved runtime configuration for one replica.
type Config struct {
	Port       string
	InstanceID string

	RedisAddr     string // empty disables cross-replica directory lookups
	RedisPassword string
	RedisDB       int

	NATSURL string // empty disables cross-replica forwarding

	JWTSecret string

	PingInterval     time.Duration
	DirectoryTTL     time.Duration
	DefaultDeadline  time.Duration
	PRTSweepInterval time.Duration
	IdleSweepInterval time.Duration
	IdleSessionLimit time.Duration
	MaxMessageBytes  int64

	// TypeDeadlines overrides DefaultDeadline for specific request types,
	// keyed by the raw type string (e.g. "download-file").
	TypeDeadlines map[string]time.Duration
}

// Load resolves configuration from the process environment, matching the
// teacher's getEnv/getEnvInt pattern in internal/config/config.go.
func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "3010"),
		InstanceID:        getEnv("INSTANCE_ID", uuid.NewString()),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		NATSURL:           getEnv("NATS_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", "relaygate-dev-secret"),
		PingInterval:      getEnvDuration("PING_INTERVAL", 20*time.Second),
		DirectoryTTL:      getEnvDuration("DIRECTORY_TTL", 60*time.Second),
		DefaultDeadline:   getEnvDuration("DEFAULT_DEADLINE", 10*time.Second),
		PRTSweepInterval:  getEnvDuration("PRT_SWEEP_INTERVAL", 10*time.Second),
		IdleSweepInterval: getEnvDuration("IDLE_SWEEP_INTERVAL", 60*time.Second),
		IdleSessionLimit:  getEnvDuration("IDLE_SESSION_LIMIT", 10*time.Minute),
		MaxMessageBytes:   getEnvInt64("MAX_MESSAGE_BYTES", 250*1024*1024),
		TypeDeadlines:     map[string]time.Duration{},
	}
	return cfg
}

// DeadlineFor returns the configured deadline for a request type, falling
// back to DefaultDeadline.
func (c *Config) DeadlineFor(requestType string) time.Duration {
	if d, ok := c.TypeDeadlines[requestType]; ok {
		return d
	}
	return c.DefaultDeadline
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
