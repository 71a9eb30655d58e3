/*
config.go - Environment configuration

PURPOSE:
  Loads process settings from the environment after reading an optional
  .env file. Command-line flags in cmd/ may override the result.

VARIABLES:
  PORT                    HTTP port (8080)
  DB_PATH                 SQLite ledger path (trade-ledger.db)
  CACHE_BACKEND           sqlite | file | redis | memory (sqlite)
  CACHE_DIR               Directory for the file backend (data)
  REDIS_ADDR              Redis address (localhost:6379)
  REDIS_PASSWORD, REDIS_DB
  ANALYSIS_CACHE_TTL      Analysis staleness window (720h)
  CACHE_PRUNE_INTERVAL    Background analysis prune period, 0 disables (1h)
  OVERVIEW_LOOKBACK_DAYS  Overview window length (365)
  TOP_PRODUCTS            Top sales list size (10)
  LOG_LEVEL, LOG_FORMAT   info, json
  ENVIRONMENT             development
  ALLOWED_ORIGINS         Comma-separated CORS origins (*)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CacheBackendSQLite = "sqlite"
	CacheBackendFile   = "file"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config holds application configuration.
type Config struct {
	ServiceName string
	Environment string

	Port   int
	DBPath string

	CacheBackend  string
	CacheDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AnalysisCacheTTL     time.Duration
	CachePruneInterval   time.Duration
	OverviewLookbackDays int
	TopProducts          int

	LogLevel  string
	LogFormat string

	AllowedOrigins []string
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServiceName:          getenv("APP_SERVICE", "trade-ledger"),
		Environment:          getenv("ENVIRONMENT", "development"),
		Port:                 getenvInt("PORT", 8080),
		DBPath:               getenv("DB_PATH", "trade-ledger.db"),
		CacheBackend:         strings.ToLower(strings.TrimSpace(getenv("CACHE_BACKEND", CacheBackendSQLite))),
		CacheDir:             getenv("CACHE_DIR", "data"),
		RedisAddr:            getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getenv("REDIS_PASSWORD", ""),
		RedisDB:              getenvInt("REDIS_DB", 0),
		AnalysisCacheTTL:     getenvDuration("ANALYSIS_CACHE_TTL", 30*24*time.Hour),
		CachePruneInterval:   getenvDuration("CACHE_PRUNE_INTERVAL", time.Hour),
		OverviewLookbackDays: getenvInt("OVERVIEW_LOOKBACK_DAYS", 365),
		TopProducts:          getenvInt("TOP_PRODUCTS", 10),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "json"),
		AllowedOrigins:       parseList(getenv("ALLOWED_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendSQLite, CacheBackendFile, CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.AnalysisCacheTTL <= 0 {
		return fmt.Errorf("ANALYSIS_CACHE_TTL must be positive")
	}
	if c.CachePruneInterval < 0 {
		return fmt.Errorf("CACHE_PRUNE_INTERVAL must not be negative")
	}
	if c.OverviewLookbackDays <= 0 {
		return fmt.Errorf("OVERVIEW_LOOKBACK_DAYS must be positive")
	}
	if c.TopProducts <= 0 {
		return fmt.Errorf("TOP_PRODUCTS must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("720h") or a bare number of days.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if days, err := strconv.Atoi(value); err == nil {
		return time.Duration(days) * 24 * time.Hour
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
