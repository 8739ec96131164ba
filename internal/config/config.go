// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string          // e.g. "8080"
	Env            string          // "development" | "production"
	ReadTimeout    time.Duration   // default 10s
	WriteTimeout   time.Duration   // default 10s
	AllowedOrigins map[string]bool // CORS allowlist, used in production only

	// Backoffice (operator console, separate binary)
	BackofficePort       string // e.g. "8081"
	BackofficeAllowedIPs string // comma-separated allowlist; empty = allow all
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// AMMConfig holds trading-engine settings.
type AMMConfig struct {
	MoneyQuant         float64       // money quantization step, default 0.01
	DefaultToken       string        // collateral token when the request omits one
	DefaultChain       string        // chain_type for placeholder wallets
	DustThreshold      float64       // sell-all positions at or below this are swept for free
	PriceBucketSeconds int           // series bucket width, default 5
	SeriesInterval     string        // interval tag written to the series table
	DeadlineSweep      time.Duration // how often the scheduler closes expired markets
	VolumeRollup       time.Duration // how often the 24h volume counters roll off
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	AMM    AMMConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	var errs []error

	// In production, DB DSN must be explicit
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.AMM.MoneyQuant <= 0 || c.AMM.MoneyQuant > 1 {
		errs = append(errs, fmt.Errorf(
			"AMM_MONEY_QUANT must be in (0, 1], got %.4f", c.AMM.MoneyQuant))
	}
	if c.AMM.DefaultToken == "" {
		errs = append(errs, errors.New("AMM_DEFAULT_TOKEN must not be empty"))
	}
	if c.AMM.DustThreshold < 0 {
		errs = append(errs, fmt.Errorf(
			"AMM_DUST_THRESHOLD must not be negative, got %.4f", c.AMM.DustThreshold))
	}
	if c.AMM.PriceBucketSeconds <= 0 {
		errs = append(errs, fmt.Errorf(
			"AMM_PRICE_BUCKET_SECONDS must be positive, got %d", c.AMM.PriceBucketSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	origins := make(map[string]bool)
	for _, o := range strings.Split(getEnv("SERVER_ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		AllowedOrigins: origins,

		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "forecastpool_exchange"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── AMM ───────────────────────────────────────────────────────────────────
	moneyQuant, err := getFloat("AMM_MONEY_QUANT", 0.01)
	if err != nil {
		return nil, fmt.Errorf("AMM_MONEY_QUANT: %w", err)
	}
	dust, err := getFloat("AMM_DUST_THRESHOLD", 0.1)
	if err != nil {
		return nil, fmt.Errorf("AMM_DUST_THRESHOLD: %w", err)
	}
	bucket, err := getInt("AMM_PRICE_BUCKET_SECONDS", 5)
	if err != nil {
		return nil, fmt.Errorf("AMM_PRICE_BUCKET_SECONDS: %w", err)
	}

	cfg.AMM = AMMConfig{
		MoneyQuant:         moneyQuant,
		DefaultToken:       getEnv("AMM_DEFAULT_TOKEN", "USDC"),
		DefaultChain:       getEnv("AMM_DEFAULT_CHAIN", "evm"),
		DustThreshold:      dust,
		PriceBucketSeconds: bucket,
		SeriesInterval:     getEnv("AMM_SERIES_INTERVAL", "1M"),
		DeadlineSweep:      getDuration("AMM_DEADLINE_SWEEP", 5*time.Second),
		VolumeRollup:       getDuration("AMM_VOLUME_ROLLUP", 15*time.Minute),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
