// Package config builds runtime configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration for the stitching service.
type Config struct {
	Ops      Ops
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Registry Registry
	Workers  int
	LogLevel string
}

// Ops configures the operational HTTP endpoint (health, metrics).
type Ops struct {
	Addr string
}

// Postgres configures the identity and event database.
type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// Redis configures the placement score cache. An empty URL disables it.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ScoreTTL     time.Duration
}

// Kafka configures the event stream consumer.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Registry configures the global registry client.
type Registry struct {
	BaseURL    string
	SigningKey string
}

// FromEnv builds a Config from environment variables, with defaults
// suitable for local development.
func FromEnv() Config {
	return Config{
		Ops: Ops{
			Addr: envString("STITCHD_OPS_ADDR", ":8080"),
		},
		Postgres: Postgres{
			DSN:          envString("STITCHD_POSTGRES_DSN", "postgres://localhost:5432/stitchd?sslmode=disable"),
			MaxOpenConns: envInt("STITCHD_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("STITCHD_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnLifetime: envDuration("STITCHD_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("STITCHD_REDIS_URL"),
			PoolSize:     envInt("STITCHD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("STITCHD_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("STITCHD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("STITCHD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("STITCHD_REDIS_WRITE_TIMEOUT", 3*time.Second),
			ScoreTTL:     envDuration("STITCHD_REDIS_SCORE_TTL", 10*time.Minute),
		},
		Kafka: Kafka{
			Brokers: envList("STITCHD_KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   envString("STITCHD_KAFKA_TOPIC", "tracking-events"),
			GroupID: envString("STITCHD_KAFKA_GROUP_ID", "stitchd"),
		},
		Registry: Registry{
			BaseURL: envString("STITCHD_REGISTRY_URL", "http://localhost:8081"),
			// Development fallback, must be overridden in production.
			SigningKey: envString("STITCHD_REGISTRY_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Workers:  envInt("STITCHD_WORKERS", 8),
		LogLevel: envString("STITCHD_LOG_LEVEL", "info"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
