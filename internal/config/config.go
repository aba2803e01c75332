package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	Host            string        `mapstructure:"DATABASE_HOST"`
	Port            string        `mapstructure:"DATABASE_PORT"`
	Name            string        `mapstructure:"DATABASE_NAME"`
	User            string        `mapstructure:"DATABASE_USER"`
	Password        string        `mapstructure:"DATABASE_PASSWORD"`
	SSLMode         string        `mapstructure:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	LockTimeout     time.Duration `mapstructure:"DATABASE_LOCK_TIMEOUT"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	ReconcileCron string `mapstructure:"SCHEDULER_RECONCILE_CRON"`
	Timezone      string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	FirstPaymentDays      int           `mapstructure:"FIRST_PAYMENT_DAYS"`
	LateFeeGraceDays      int           `mapstructure:"LATE_FEE_GRACE_DAYS"`
	LateFeeFlat           string        `mapstructure:"LATE_FEE_FLAT"`
	LateFeePercent        string        `mapstructure:"LATE_FEE_PERCENT"`
	RequiredConfirmations int           `mapstructure:"DEPOSIT_REQUIRED_CONFIRMATIONS"`
	AuditRecentLimit      int           `mapstructure:"AUDIT_RECENT_LIMIT"`
	LoanLockExpiry        time.Duration `mapstructure:"LOAN_LOCK_EXPIRY"`
	LoanLockTries         int           `mapstructure:"LOAN_LOCK_TRIES"`
	LoanLockRetryDelay    time.Duration `mapstructure:"LOAN_LOCK_RETRY_DELAY"`
	IdempotencyTTL        time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	LoanCacheTTL          time.Duration `mapstructure:"LOAN_CACHE_TTL"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":                    "8080",
	"SERVER_HOST":                    "0.0.0.0",
	"ENV":                            "development",
	"SERVER_READ_TIMEOUT":            "15s",
	"SERVER_WRITE_TIMEOUT":           "15s",
	"DATABASE_URL":                   "",
	"DATABASE_HOST":                  "localhost",
	"DATABASE_PORT":                  "5432",
	"DATABASE_NAME":                  "loan_engine",
	"DATABASE_USER":                  "postgres",
	"DATABASE_PASSWORD":              "",
	"DATABASE_SSLMODE":               "disable",
	"DATABASE_MAX_OPEN_CONNS":        25,
	"DATABASE_MAX_IDLE_CONNS":        5,
	"DATABASE_CONN_MAX_LIFETIME":     "30m",
	"DATABASE_LOCK_TIMEOUT":          "5s",
	"REDIS_HOST":                     "localhost",
	"REDIS_PORT":                     "6379",
	"REDIS_PASSWORD":                 "",
	"REDIS_DB":                       0,
	"SCHEDULER_RECONCILE_CRON":       "0 0 2 * * *",
	"SCHEDULER_TIMEZONE":             "UTC",
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"FIRST_PAYMENT_DAYS":             30,
	"LATE_FEE_GRACE_DAYS":            5,
	"LATE_FEE_FLAT":                  "25.00",
	"LATE_FEE_PERCENT":               "0",
	"DEPOSIT_REQUIRED_CONFIRMATIONS": 3,
	"AUDIT_RECENT_LIMIT":             20,
	"LOAN_LOCK_EXPIRY":               "10s",
	"LOAN_LOCK_TRIES":                3,
	"LOAN_LOCK_RETRY_DELAY":          "200ms",
	"IDEMPOTENCY_TTL":                "24h",
	"LOAN_CACHE_TTL":                 "5m",
	"HEALTH_CHECK_TIMEOUT":           "5s",
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	v := viper.New()

	// Every key gets a default so that Unmarshal sees it and env vars can override it
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Read from environment variables
	v.AutomaticEnv()

	// Try to read from .env file (optional)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = v.ReadInConfig()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("DATABASE_URL or DATABASE_HOST and DATABASE_NAME are required")
	}

	if c.Business.FirstPaymentDays <= 0 {
		return fmt.Errorf("FIRST_PAYMENT_DAYS must be greater than 0")
	}

	if c.Business.LateFeeGraceDays < 0 {
		return fmt.Errorf("LATE_FEE_GRACE_DAYS must not be negative")
	}

	if c.Business.RequiredConfirmations <= 0 {
		return fmt.Errorf("DEPOSIT_REQUIRED_CONFIRMATIONS must be greater than 0")
	}

	if c.Business.AuditRecentLimit <= 0 {
		return fmt.Errorf("AUDIT_RECENT_LIMIT must be greater than 0")
	}

	// Validate late fee amounts
	flat, err := decimal.NewFromString(c.Business.LateFeeFlat)
	if err != nil {
		return fmt.Errorf("LATE_FEE_FLAT must be a valid decimal: %w", err)
	}
	if flat.IsNegative() {
		return fmt.Errorf("LATE_FEE_FLAT must not be negative")
	}

	percent, err := decimal.NewFromString(c.Business.LateFeePercent)
	if err != nil {
		return fmt.Errorf("LATE_FEE_PERCENT must be a valid decimal: %w", err)
	}
	if percent.IsNegative() {
		return fmt.Errorf("LATE_FEE_PERCENT must not be negative")
	}

	// Validate reconciliation schedule
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(c.Scheduler.ReconcileCron); err != nil {
		return fmt.Errorf("SCHEDULER_RECONCILE_CRON must be a valid cron expression: %w", err)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}

	if c.Health.Timeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be a positive duration")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// DSN returns DATABASE_URL when set, otherwise a URL built from the individual settings
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Addr returns the redis host:port
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// GetLateFeeFlat returns the flat late fee as decimal
func (c *Config) GetLateFeeFlat() decimal.Decimal {
	fee, _ := decimal.NewFromString(c.Business.LateFeeFlat)
	return fee
}

// GetLateFeePercent returns the late fee percentage of the monthly payment as decimal
func (c *Config) GetLateFeePercent() decimal.Decimal {
	percent, _ := decimal.NewFromString(c.Business.LateFeePercent)
	return percent
}

// GetSchedulerLocation returns the scheduler timezone
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
