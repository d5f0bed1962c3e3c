// Package config provides configuration management and environment variable handling for the application
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

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	WebSocket  WebSocketConfig  `json:"websocket"`
	Legacy     LegacyConfig     `json:"legacy"`
	Reconcile  ReconcileConfig  `json:"reconcile"`
	Bootstrap  BootstrapConfig  `json:"bootstrap"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
}

type SecurityConfig struct {
	AllowedOrigins  []string      `json:"allowed_origins"`
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`
	BcryptCost      int           `json:"bcrypt_cost"`
}

type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	PrivateKey     string        `json:"private_key"`  // RSA private key in PEM format
	PublicKey      string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys     bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, console
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

type WebSocketConfig struct {
	Path           string        `json:"path"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AuthTimeout    time.Duration `json:"auth_timeout"`
	PingInterval   time.Duration `json:"ping_interval"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
	MessageRate    float64       `json:"message_rate"` // messages per second
	MessageBurst   int           `json:"message_burst"`
}

// LegacyConfig describes the external system of record
type LegacyConfig struct {
	BaseURL        string        `json:"base_url"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	PageSize       int           `json:"page_size"`
	MaxPages       int           `json:"max_pages"`
	RequestTimeout time.Duration `json:"request_timeout"`
	BatchSize      int           `json:"batch_size"`
}

type ReconcileConfig struct {
	Enabled                bool          `json:"enabled"`
	Interval               time.Duration `json:"interval"`
	OrganizationKey        string        `json:"organization_key"`
	OrganizationName       string        `json:"organization_name"`
	OrganizationCountry    string        `json:"organization_country"`
	PlaceholderEmailDomain string        `json:"placeholder_email_domain"`
	LockTTL                time.Duration `json:"lock_ttl"`
}

type BootstrapConfig struct {
	AdminEmail     string `json:"admin_email"`
	AdminPassword  string `json:"-"`
	AdminFirstName string `json:"admin_first_name"`
	AdminLastName  string `json:"admin_last_name"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := FromEnv()

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds the configuration from the current environment without validating it
func FromEnv() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "orgsync"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1024*1024),
		},
		Security: SecurityConfig{
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			GlobalRateLimit: getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			BcryptCost:      getEnvInt("BCRYPT_COST", 12),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:     getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:      getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:     getEnvBool("JWT_USE_RSA_KEYS", false),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 1*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "orgsync"),
			Audience:       getEnvString("JWT_AUDIENCE", "orgsync-admin"),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:   getEnvString("LOG_FILE_PATH", "/var/log/orgsync/app.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "orgsync:"),
		},
		WebSocket: WebSocketConfig{
			Path:           getEnvString("WS_PATH", "/ws"),
			IdleTimeout:    getEnvDuration("WS_IDLE_TIMEOUT", 60*time.Second),
			AuthTimeout:    getEnvDuration("WS_AUTH_TIMEOUT", 15*time.Second),
			PingInterval:   getEnvDuration("WS_PING_INTERVAL", 25*time.Second),
			WriteTimeout:   getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 256*1024)),
			MessageRate:    getEnvFloat("WS_MESSAGE_RATE", 10),
			MessageBurst:   getEnvInt("WS_MESSAGE_BURST", 20),
		},
		Legacy: LegacyConfig{
			BaseURL:        getEnvString("LEGACY_API_BASE_URL", ""),
			Username:       getEnvString("LEGACY_API_USERNAME", ""),
			Password:       getEnvString("LEGACY_API_PASSWORD", ""),
			PageSize:       getEnvInt("LEGACY_API_PAGE_SIZE", 100),
			MaxPages:       getEnvInt("LEGACY_API_MAX_PAGES", 1000),
			RequestTimeout: getEnvDuration("LEGACY_API_REQUEST_TIMEOUT", 10*time.Second),
			BatchSize:      getEnvInt("LEGACY_API_BATCH_SIZE", 5),
		},
		Reconcile: ReconcileConfig{
			Enabled:                getEnvBool("RECONCILE_ENABLED", false),
			Interval:               getEnvDuration("RECONCILE_INTERVAL", 30*time.Minute),
			OrganizationKey:        getEnvString("RECONCILE_ORGANIZATION_KEY", "default"),
			OrganizationName:       getEnvString("RECONCILE_ORGANIZATION_NAME", "Main Organization"),
			OrganizationCountry:    getEnvString("RECONCILE_ORGANIZATION_COUNTRY", ""),
			PlaceholderEmailDomain: getEnvString("RECONCILE_PLACEHOLDER_EMAIL_DOMAIN", "legacy.invalid"),
			LockTTL:                getEnvDuration("RECONCILE_LOCK_TTL", 5*time.Minute),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:     getEnvString("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword:  getEnvString("BOOTSTRAP_ADMIN_PASSWORD", ""),
			AdminFirstName: getEnvString("BOOTSTRAP_ADMIN_FIRST_NAME", "System"),
			AdminLastName:  getEnvString("BOOTSTRAP_ADMIN_LAST_NAME", "Administrator"),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
		},
	}
}

// loadEnvFile loads environment variables from an env file if it exists.
// Variables already present in the environment win.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Database
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// JWT
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Server
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	// Security
	if len(cfg.Security.AllowedOrigins) == 0 {
		errors = append(errors, "CORS_ALLOWED_ORIGINS must list at least one origin")
	}
	if cfg.Security.BcryptCost < 10 || cfg.Security.BcryptCost > 14 {
		errors = append(errors, "BCRYPT_COST must be between 10 and 14")
	}

	// WebSocket
	if cfg.WebSocket.IdleTimeout <= 0 {
		errors = append(errors, "WS_IDLE_TIMEOUT must be positive")
	}
	if cfg.WebSocket.AuthTimeout <= 0 {
		errors = append(errors, "WS_AUTH_TIMEOUT must be positive")
	}
	if cfg.WebSocket.PingInterval <= 0 || cfg.WebSocket.PingInterval >= cfg.WebSocket.IdleTimeout {
		errors = append(errors, "WS_PING_INTERVAL must be positive and shorter than WS_IDLE_TIMEOUT")
	}
	if cfg.WebSocket.MessageRate <= 0 || cfg.WebSocket.MessageBurst <= 0 {
		errors = append(errors, "WS_MESSAGE_RATE and WS_MESSAGE_BURST must be positive")
	}

	// Legacy API
	if cfg.Legacy.PageSize <= 0 {
		errors = append(errors, "LEGACY_API_PAGE_SIZE must be positive")
	}
	if cfg.Legacy.BatchSize <= 0 {
		errors = append(errors, "LEGACY_API_BATCH_SIZE must be positive")
	}
	if cfg.Legacy.RequestTimeout <= 0 {
		errors = append(errors, "LEGACY_API_REQUEST_TIMEOUT must be positive")
	}
	if cfg.Reconcile.Enabled {
		if cfg.Legacy.BaseURL == "" {
			errors = append(errors, "LEGACY_API_BASE_URL is required when reconciliation is enabled")
		}
		if cfg.Reconcile.Interval <= 0 {
			errors = append(errors, "RECONCILE_INTERVAL must be positive")
		}
		if cfg.Reconcile.LockTTL < 3*time.Second {
			errors = append(errors, "RECONCILE_LOCK_TTL must be at least 3s")
		}
	}
	if cfg.Reconcile.OrganizationKey == "" {
		errors = append(errors, "RECONCILE_ORGANIZATION_KEY is required")
	}

	// Logging
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Output {
	case "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			errors = append(errors, "LOG_FILE_PATH is required when logging to a file")
		}
	default:
		errors = append(errors, "LOG_OUTPUT must be one of: stdout, file, both")
	}

	// Cache
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled")
	}

	// Bootstrap
	if (cfg.Bootstrap.AdminEmail == "") != (cfg.Bootstrap.AdminPassword == "") {
		errors = append(errors, "BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
