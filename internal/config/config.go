package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/contactpilot/contactpilot/internal/crypto"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Browser drivers
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Env   Environment `envconfig:"ENV" default:"development"`
	Debug bool        `envconfig:"DEBUG" default:"false"`

	// Application
	App AppConfig

	// Logging
	Log LogConfig

	// Ops server
	Server ServerConfig

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Storage
	Storage StorageConfig

	// Browser
	Browser BrowserConfig

	// Processor
	Processor ProcessorConfig

	// Captcha
	Captcha CaptchaConfig

	// Security
	Security SecurityConfig

	// Audit
	Audit AuditConfig
}

// AppConfig holds application metadata
type AppConfig struct {
	Name    string `envconfig:"APP_NAME" default:"contactpilot"`
	Version string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// LogConfig holds logger settings. File output is rotated when File is set.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	Format     string `envconfig:"LOG_FORMAT" default:""` // json or console; empty picks by environment
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
}

// ServerConfig holds ops HTTP server settings
type ServerConfig struct {
	Enabled         bool          `envconfig:"OPS_ENABLED" default:"true"`
	Host            string        `envconfig:"OPS_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"OPS_PORT" default:"9090"`
	ReadTimeout     time.Duration `envconfig:"OPS_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"OPS_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"OPS_SHUTDOWN_TIMEOUT" default:"15s"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"contactpilot"`
	Password        string        `envconfig:"DB_PASSWORD" default:""`
	Database        string        `envconfig:"DB_NAME" default:"contactpilot"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"1m"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis settings. The campaign lease lives here.
type RedisConfig struct {
	Enabled      bool          `envconfig:"REDIS_ENABLED" default:"true"`
	Host         string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"4"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	LeaseTTL     time.Duration `envconfig:"REDIS_LEASE_TTL" default:"60s"`
	LeasePrefix  string        `envconfig:"REDIS_LEASE_PREFIX" default:"contactpilot:lease:"`
}

// Addr returns Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig holds object storage settings for diagnostic screenshots
type StorageConfig struct {
	Screenshots    bool   `envconfig:"DIAG_SCREENSHOTS" default:"false"`
	Endpoint       string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey      string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"STORAGE_BUCKET" default:"contactpilot"`
	Region         string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	UseSSL         bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	ScreenshotPath string `envconfig:"STORAGE_SCREENSHOT_PATH" default:"screenshots"`
}

// BrowserConfig holds driver settings
type BrowserConfig struct {
	Driver            string        `envconfig:"BROWSER_DRIVER" default:"playwright"`
	Headless          bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	NavigationTimeout time.Duration `envconfig:"BROWSER_NAVIGATION_TIMEOUT" default:"30s"`
	ActionTimeout     time.Duration `envconfig:"BROWSER_ACTION_TIMEOUT" default:"5s"`
	ViewportWidth     int           `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1366"`
	ViewportHeight    int           `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"900"`
	UserAgent         string        `envconfig:"BROWSER_USER_AGENT" default:""`
	SettleDelay       time.Duration `envconfig:"BROWSER_SETTLE_DELAY" default:"1s"`
	VerifyWait        time.Duration `envconfig:"BROWSER_VERIFY_WAIT" default:"2s"`
}

// ProcessorConfig holds campaign loop settings
type ProcessorConfig struct {
	BatchSize          int           `envconfig:"PROCESSOR_BATCH_SIZE" default:"5"`
	BatchPause         time.Duration `envconfig:"PROCESSOR_BATCH_PAUSE" default:"2s"`
	MaxRetries         int           `envconfig:"PROCESSOR_MAX_RETRIES" default:"3"`
	MinNavInterval     time.Duration `envconfig:"PROCESSOR_MIN_NAV_INTERVAL" default:"1s"`
	PopupMaxAttempts   int           `envconfig:"PROCESSOR_POPUP_MAX_ATTEMPTS" default:"3"`
	PopupSettle        time.Duration `envconfig:"PROCESSOR_POPUP_SETTLE" default:"500ms"`
	FieldRetries       int           `envconfig:"PROCESSOR_FIELD_RETRIES" default:"2"`
	PollInterval       time.Duration `envconfig:"PROCESSOR_POLL_INTERVAL" default:"15s"`
	SubmissionDeadline time.Duration `envconfig:"PROCESSOR_SUBMISSION_DEADLINE" default:"3m"`
}

// CaptchaConfig holds solver settings
type CaptchaConfig struct {
	Enabled          bool          `envconfig:"CAPTCHA_SOLVER_ENABLED" default:"false"`
	Endpoint         string        `envconfig:"CAPTCHA_SOLVER_ENDPOINT" default:""`
	Timeout          time.Duration `envconfig:"CAPTCHA_SOLVER_TIMEOUT" default:"120s"`
	RateLimitRPM     int           `envconfig:"CAPTCHA_SOLVER_RATE_LIMIT_RPM" default:"20"`
	FailureThreshold int           `envconfig:"CAPTCHA_BREAKER_FAILURES" default:"5"`
	OpenTimeout      time.Duration `envconfig:"CAPTCHA_BREAKER_OPEN_TIMEOUT" default:"60s"`
}

// SecurityConfig holds at-rest encryption settings
type SecurityConfig struct {
	// EncryptionKey seals solver credentials in user_profiles. 32 bytes, raw or base64.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" default:""`
}

// AuditConfig controls the campaign event log
type AuditConfig struct {
	Enabled       bool          `envconfig:"AUDIT_ENABLED" default:"true"`
	BufferSize    int           `envconfig:"AUDIT_BUFFER_SIZE" default:"256"`
	FlushInterval time.Duration `envconfig:"AUDIT_FLUSH_INTERVAL" default:"2s"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if c.Env != EnvDevelopment && c.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required in non-development mode")
	}

	switch c.Browser.Driver {
	case DriverPlaywright, DriverChromedp:
	default:
		errors = append(errors, fmt.Sprintf("BROWSER_DRIVER must be %q or %q, got %q", DriverPlaywright, DriverChromedp, c.Browser.Driver))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errors = append(errors, "BROWSER_NAVIGATION_TIMEOUT must be positive")
	}

	if c.Processor.BatchSize < 1 {
		errors = append(errors, "PROCESSOR_BATCH_SIZE must be at least 1")
	}
	if c.Processor.MaxRetries < 1 {
		errors = append(errors, "PROCESSOR_MAX_RETRIES must be at least 1")
	}
	if c.Processor.PopupMaxAttempts < 1 {
		errors = append(errors, "PROCESSOR_POPUP_MAX_ATTEMPTS must be at least 1")
	}

	if c.Captcha.Enabled && c.Captcha.Endpoint == "" {
		errors = append(errors, "CAPTCHA_SOLVER_ENDPOINT is required when the solver is enabled")
	}

	if c.Redis.Enabled && c.Redis.LeaseTTL < 3*time.Second {
		errors = append(errors, "REDIS_LEASE_TTL must be at least 3s")
	}

	if c.Security.EncryptionKey != "" {
		if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
			errors = append(errors, "ENCRYPTION_KEY must be 32 bytes, raw or base64")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		errors = append(errors, "AUDIT_BUFFER_SIZE must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GetLogLevel returns the appropriate zap log level
func (c *Config) GetLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Log.Level
}
