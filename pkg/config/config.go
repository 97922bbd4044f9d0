// =============================================================================
// CONFIGURATION PACKAGE
// Centralized configuration management with environment variables and defaults
// =============================================================================

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Application
	App AppConfig

	// Server
	Server ServerConfig

	// Database (postgres backend)
	Database DatabaseConfig

	// Redis (redis backend)
	Redis RedisConfig

	// SQLite (embedded backend)
	SQLite SQLiteConfig

	// Queue runtime tunables
	Queue Queue

	// Lease/heartbeat tunables
	Lease LeaseConfig

	// Backoff policy defaults
	Backoff BackoffConfig

	// Retention/pruning policy
	Retention RetentionConfig

	// HTTP transport (spec.md §4.6)
	HTTPTransport HTTPTransportConfig
}

// AppConfig for application settings
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Version     string
	Debug       bool
	LogLevel    string
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TrustedProxies  []string
	CORSOrigins     []string
}

// DatabaseConfig for PostgreSQL
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig for Redis
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// URL returns the Redis connection URL
func (c RedisConfig) URL() string {
	if c.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", c.Password, c.Host, c.Port, c.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Host, c.Port, c.DB)
}

// SQLiteConfig for the embedded single-writer backend
type SQLiteConfig struct {
	Path string
}

// Queue holds the runtime's per-backend selection and per-queue worker
// shape, per spec.md §6.
type Queue struct {
	Backend     string // "postgres", "sqlite", "redis"
	Role        string // "api", "worker", "scheduler", "all"
	Names       []string
	Concurrency int
	PollInterval time.Duration
}

// LeaseConfig governs how long a claimed job is held before it's
// considered abandoned, and how often a worker renews it.
type LeaseConfig struct {
	Duration          time.Duration
	HeartbeatInterval time.Duration
	GracefulShutdown  time.Duration
}

// BackoffConfig is the default retry backoff applied to jobs that don't
// specify their own policy at enqueue time.
type BackoffConfig struct {
	Kind         string // "exponential", "linear", "fixed"
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64
}

// RetentionConfig governs the periodic prune sweep of terminal jobs.
type RetentionConfig struct {
	CompletedAfter   time.Duration
	FailedAfter      time.Duration
	MaxRowsPerStatus int
	Interval         time.Duration
}

// HTTPTransportConfig tunes the remote-worker wire protocol (spec.md
// §4.6): the wait-timeout clamp and the client-side connection-error
// backoff.
type HTTPTransportConfig struct {
	MinWaitTimeout    time.Duration
	MaxWaitTimeout    time.Duration
	ConnectionBackoff time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "queuecore"),
			Environment: getEnv("ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			Debug:       getEnvBool("DEBUG", true),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Host:            getEnv("HOST", ""),
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustedProxies:  getEnvSlice("TRUSTED_PROXIES", []string{}),
			CORSOrigins:     getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "queuecore"),
			Password:        getEnv("DB_PASSWORD", "queuecore"),
			Database:        getEnv("DB_NAME", "queuecore"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns:        int32(getEnvInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "queuecore:"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "./queuecore.db"),
		},
		Queue: Queue{
			Backend:      getEnv("QUEUE_BACKEND", "postgres"),
			Role:         getEnv("QUEUE_ROLE", "all"),
			Names:        getEnvSlice("QUEUE_NAMES", []string{"default"}),
			Concurrency:  getEnvInt("QUEUE_CONCURRENCY", 10),
			PollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		},
		Lease: LeaseConfig{
			Duration:          getEnvDuration("LEASE_DURATION", 15*time.Minute),
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 60*time.Second),
			GracefulShutdown:  getEnvDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Backoff: BackoffConfig{
			Kind:         getEnv("BACKOFF_KIND", "exponential"),
			Base:         getEnvDuration("BACKOFF_BASE", time.Second),
			Max:          getEnvDuration("BACKOFF_MAX", 5*time.Minute),
			JitterFactor: getEnvFloat("BACKOFF_JITTER", 0.2),
		},
		Retention: RetentionConfig{
			CompletedAfter:   getEnvDuration("RETENTION_COMPLETED_AFTER", 24*time.Hour),
			FailedAfter:      getEnvDuration("RETENTION_FAILED_AFTER", 7*24*time.Hour),
			MaxRowsPerStatus: getEnvInt("RETENTION_MAX_ROWS", 100_000),
			Interval:         getEnvDuration("RETENTION_INTERVAL", time.Hour),
		},
		HTTPTransport: HTTPTransportConfig{
			MinWaitTimeout:    getEnvDuration("HTTP_WAIT_MIN", time.Second),
			MaxWaitTimeout:    getEnvDuration("HTTP_WAIT_MAX", 60*time.Second),
			ConnectionBackoff: getEnvDuration("HTTP_CONNECTION_BACKOFF", 2*time.Second),
		},
	}

	// Validate required settings for production
	if cfg.App.Environment == "production" {
		if cfg.Queue.Backend == "" {
			return nil, fmt.Errorf("QUEUE_BACKEND must be set in production")
		}
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
