package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// configuration for the service

type Config struct {
	HTTP      HTTPConfig
	Store     StoreConfig
	DB        DBConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type HTTPConfig struct {
	Port           int
	RequestTimeout time.Duration
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type StoreConfig struct {
	Backend    string
	SQLitePath string
}

type DBConfig struct {
	DatabaseURL string

	MinConns          int32
	MaxConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration

	ConnectTimeout time.Duration
}

type SchedulerConfig struct {
	// Interval is the dispatch period: one batch per interval.
	Interval time.Duration

	// BatchSize is how many ids go into one batch. Independent of Interval.
	BatchSize int

	ExecTimeout time.Duration
}

// RateLimitConfig throttles submissions per client IP. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads the environment, after merging a .env file in the working
// directory if there is one. Real environment variables win over .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config

	// HTTP
	cfg.HTTP.Port = envInt("PORT", 8080)
	cfg.HTTP.RequestTimeout = envDuration("REQUEST_TIMEOUT", 2*time.Second)

	// Store
	cfg.Store.Backend = strings.ToLower(envString("STORE_BACKEND", BackendMemory))
	cfg.Store.SQLitePath = envString("SQLITE_PATH", "batch-ingest.db")

	// DB
	cfg.DB.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.Store.Backend == BackendPostgres && cfg.DB.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	cfg.DB.MaxConns = int32(envInt("DB_MAX_CONNS", 20))
	cfg.DB.MinConns = int32(envInt("DB_MIN_CONNS", 2))
	cfg.DB.MaxConnIdleTime = envDuration("DB_MAX_CONN_IDLE_TIME", 2*time.Minute)
	cfg.DB.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.DB.HealthCheckPeriod = envDuration("DB_HEALTHCHECK_PERIOD", 30*time.Second)
	cfg.DB.ConnectTimeout = envDuration("DB_CONNECT_TIMEOUT", 3*time.Second)

	// Scheduler
	cfg.Scheduler.Interval = envDuration("DISPATCH_INTERVAL", 5*time.Second)
	cfg.Scheduler.BatchSize = envInt("BATCH_SIZE", 3)
	cfg.Scheduler.ExecTimeout = envDuration("EXEC_TIMEOUT", 5*time.Second)

	// Rate limit
	cfg.RateLimit.RPS = envFloat("SUBMIT_RATE_RPS", 0)
	cfg.RateLimit.Burst = envInt("SUBMIT_RATE_BURST", 10)

	cfg.LogLevel = envString("LOG_LEVEL", "INFO")

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	// HTTP
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535 (got %d)", cfg.HTTP.Port)
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", cfg.HTTP.RequestTimeout)
	}

	// Store
	switch cfg.Store.Backend {
	case BackendMemory, BackendPostgres:
	case BackendSQLite:
		if cfg.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH must not be empty when STORE_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, sqlite (got %q)", cfg.Store.Backend)
	}

	// DB
	if cfg.Store.Backend == BackendPostgres {
		if cfg.DB.MaxConns <= 0 {
			return fmt.Errorf("DB_MAX_CONNS must be > 0 (got %d)", cfg.DB.MaxConns)
		}
		if cfg.DB.MinConns < 0 {
			return fmt.Errorf("DB_MIN_CONNS must be >= 0 (got %d)", cfg.DB.MinConns)
		}
		if cfg.DB.MinConns > cfg.DB.MaxConns {
			return fmt.Errorf("DB_MIN_CONNS must be <= DB_MAX_CONNS (min=%d max=%d)", cfg.DB.MinConns, cfg.DB.MaxConns)
		}
		if cfg.DB.MaxConnIdleTime < 0 {
			return fmt.Errorf("DB_MAX_CONN_IDLE_TIME must be >= 0 (got %s)", cfg.DB.MaxConnIdleTime)
		}
		if cfg.DB.MaxConnLifetime < 0 {
			return fmt.Errorf("DB_MAX_CONN_LIFETIME must be >= 0 (got %s)", cfg.DB.MaxConnLifetime)
		}
		if cfg.DB.HealthCheckPeriod <= 0 {
			return fmt.Errorf("DB_HEALTHCHECK_PERIOD must be > 0 (got %s)", cfg.DB.HealthCheckPeriod)
		}
		if cfg.DB.ConnectTimeout <= 0 {
			return fmt.Errorf("DB_CONNECT_TIMEOUT must be > 0 (got %s)", cfg.DB.ConnectTimeout)
		}
	}

	// Scheduler
	if cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be > 0 (got %s)", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be > 0 (got %d)", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.ExecTimeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be > 0 (got %s)", cfg.Scheduler.ExecTimeout)
	}

	// Rate limit
	if cfg.RateLimit.RPS < 0 {
		return fmt.Errorf("SUBMIT_RATE_RPS must be >= 0 (got %g)", cfg.RateLimit.RPS)
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("SUBMIT_RATE_BURST must be > 0 (got %d)", cfg.RateLimit.Burst)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// it panics if the value is set but invalid
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer (got %q)", key, val))
	}
	return n
}

func envFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a number (got %q)", key, val))
	}
	return f
}

// e.g. "200ms", "2s", "1m"
func envDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid duration (e.g. 200ms, 2s, 1m). got %q", key, val))
	}
	return d
}
