package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Auth configuration
	Auth AuthConfig

	// Rate limit configuration
	RateLimit RateLimitConfig

	// Mail configuration
	Mail MailConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig

	// SeedFile is the YAML catalog applied by hrm-seed
	SeedFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	// TrustedProxies are CIDR blocks or addresses whose forwarding headers name the client
	TrustedProxies []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// AuthConfig holds token, cookie and account flow settings
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	OTPTTL          time.Duration
	InviteTTL       time.Duration
	CookieName      string
	// AppOrigin is a comma separated list of frontend origins; the first one
	// builds invite links and decides the cookie SameSite mode
	AppOrigin string
	// PublicURL is the externally visible base URL of this API
	PublicURL string
	// AuthzCacheTTL enables the authorization snapshot cache when positive
	AuthzCacheTTL  time.Duration
	AuthzCacheSize int
	CleanupCron    string
}

// RateLimitConfig holds the credential endpoint limiter settings
type RateLimitConfig struct {
	RedisURL          string
	RequestsPerWindow int
	Window            time.Duration
	// ResetAttemptsPerEmail caps reset code guesses per address within Window
	ResetAttemptsPerEmail int
}

// MailConfig holds SMTP settings. An empty host selects the log mailer.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool
	// Retention is how long events are kept; zero keeps them forever
	Retention     time.Duration
	RetentionCron string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. A .env file
// (or the file named by HRM_ENV_FILE) is read first when present; variables
// already set in the environment win.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(getEnv("HRM_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Mail:          loadMailConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
		SeedFile:      getEnv("HRM_SEED_FILE", "seed.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HRM_HOST", "0.0.0.0"),
		Port:            getEnv("HRM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HRM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HRM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HRM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HRM_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("HRM_MAX_BODY_BYTES", 1<<20),
		TrustedProxies:  getEnvList("HRM_TRUSTED_PROXIES"),
		HealthPort:      getEnv("HRM_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("HRM_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("HRM_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("HRM_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("HRM_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		MigrateOnStart:  getEnvBool("HRM_DB_MIGRATE", true),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:       getEnv("HRM_JWT_SECRET", ""),
		Issuer:          getEnv("HRM_JWT_ISSUER", "hrm"),
		SessionTTL:      getEnvDuration("HRM_SESSION_TTL", 24*time.Hour),
		VerificationTTL: getEnvDuration("HRM_VERIFICATION_TTL", 15*time.Minute),
		OTPTTL:          getEnvDuration("HRM_OTP_TTL", 3*time.Minute),
		InviteTTL:       getEnvDuration("HRM_INVITE_TTL", 60*time.Minute),
		CookieName:      getEnv("HRM_COOKIE_NAME", "token"),
		AppOrigin:       getEnv("HRM_APP_ORIGIN", "http://localhost:3000"),
		PublicURL:       strings.TrimRight(getEnv("HRM_PUBLIC_URL", "http://localhost:8080"), "/"),
		AuthzCacheTTL:   getEnvDuration("HRM_AUTHZ_CACHE_TTL", 0),
		AuthzCacheSize:  getEnvInt("HRM_AUTHZ_CACHE_SIZE", 1024),
		CleanupCron:     getEnv("HRM_CLEANUP_CRON", "@every 5m"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RedisURL:          getEnv("HRM_REDIS_URL", ""),
		RequestsPerWindow: getEnvInt("HRM_RATE_LIMIT_REQUESTS", 10),
		Window:            getEnvDuration("HRM_RATE_LIMIT_WINDOW", time.Minute),

		ResetAttemptsPerEmail: getEnvInt("HRM_RESET_ATTEMPTS_PER_EMAIL", 5),
	}
}

func loadMailConfig() MailConfig {
	return MailConfig{
		SMTPHost:     getEnv("HRM_SMTP_HOST", ""),
		SMTPPort:     getEnvInt("HRM_SMTP_PORT", 587),
		SMTPUsername: getEnv("HRM_SMTP_USER", ""),
		SMTPPassword: getEnv("HRM_SMTP_PASS", ""),
		From:         getEnv("HRM_MAIL_FROM", ""),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       getEnvBool("HRM_AUDIT_ENABLED", true),
		Retention:     getEnvDuration("HRM_AUDIT_RETENTION", 90*24*time.Hour),
		RetentionCron: getEnv("HRM_AUDIT_RETENTION_CRON", "@daily"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("HRM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("HRM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HRM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HRM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HRM_OTEL_SERVICE_NAME", "hrm-api"),
		OTelServiceVersion: getEnv("HRM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("HRM_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (HRM_DATABASE_URL)")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (HRM_JWT_SECRET)")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.VerificationTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Auth.OTPTTL <= 0 || c.Auth.InviteTTL <= 0 {
		return fmt.Errorf("OTP and invite lifetimes must be positive")
	}
	if c.Auth.AuthzCacheTTL > 0 && c.Auth.AuthzCacheSize <= 0 {
		return fmt.Errorf("authz cache size must be positive when the cache is enabled")
	}

	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if c.RateLimit.ResetAttemptsPerEmail <= 0 {
		return fmt.Errorf("reset attempts per email must be positive")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("HRM_TRUSTED_PROXIES: %w", err)
	}

	if c.Mail.SMTPHost != "" && c.Mail.From == "" && c.Mail.SMTPUsername == "" {
		return fmt.Errorf("mail sender is required when SMTP is configured (HRM_MAIL_FROM)")
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
