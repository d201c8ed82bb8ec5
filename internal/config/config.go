package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Sessions SessionConfig  `mapstructure:"sessions"`
	Users    UsersConfig    `mapstructure:"users"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaxConnections int           `mapstructure:"max_connections"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by the migration tool
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Password          PasswordConfig     `mapstructure:"password"`
	Tokens            TokenConfig        `mapstructure:"tokens"`
	RateLimiting      RateLimitingConfig `mapstructure:"rate_limiting"`
	AllowRegistration bool               `mapstructure:"allow_registration"`
}

// PasswordConfig holds password policy and hashing configuration
type PasswordConfig struct {
	MinLength         int    `mapstructure:"min_length"`
	MaxLength         int    `mapstructure:"max_length"`
	RequireUpper      bool   `mapstructure:"require_upper"`
	RequireLower      bool   `mapstructure:"require_lower"`
	RequireDigit      bool   `mapstructure:"require_digit"`
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Iterations  uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`
}

// TokenConfig holds session token signing configuration
type TokenConfig struct {
	// Secret is the HMAC key for session tokens; at least 32 bytes
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	LoginLimit  int           `mapstructure:"login_limit"`
	LoginWindow time.Duration `mapstructure:"login_window"`
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CookieName      string        `mapstructure:"cookie_name"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
}

// Delete modes for UsersConfig.DeleteMode
const (
	DeleteModeSoft = "soft"
	DeleteModeHard = "hard"
)

// UsersConfig holds user directory configuration
type UsersConfig struct {
	// DeleteMode selects what DeleteUser does: "soft" or "hard"
	DeleteMode string `mapstructure:"delete_mode"`
	// NewUserWindow is the look-back window for the "new users" statistic
	NewUserWindow time.Duration `mapstructure:"new_user_window"`
}

// Retention policies for AuditConfig.OnUserDelete
const (
	AuditRetain    = "retain"
	AuditAnonymize = "anonymize"
)

// AuditConfig holds audit trail retention configuration
type AuditConfig struct {
	// OnUserDelete is "retain" or "anonymize" and applies to hard deletes
	OnUserDelete string `mapstructure:"on_user_delete"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/voc")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("VOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have a closed set of options
func (c *Config) Validate() error {
	switch c.Users.DeleteMode {
	case DeleteModeSoft, DeleteModeHard:
	default:
		return fmt.Errorf("users.delete_mode must be %q or %q, got %q", DeleteModeSoft, DeleteModeHard, c.Users.DeleteMode)
	}
	switch c.Audit.OnUserDelete {
	case AuditRetain, AuditAnonymize:
	default:
		return fmt.Errorf("audit.on_user_delete must be %q or %q, got %q", AuditRetain, AuditAnonymize, c.Audit.OnUserDelete)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}

	// the policy may be tightened but never relaxed below the floor
	pw := c.Security.Password
	if pw.MinLength < MinPasswordLength {
		return fmt.Errorf("security.password.min_length must be at least %d, got %d", MinPasswordLength, pw.MinLength)
	}
	if !pw.RequireUpper || !pw.RequireLower || !pw.RequireDigit {
		return fmt.Errorf("security.password.require_upper, require_lower and require_digit cannot be disabled")
	}
	if pw.MaxLength > 0 && pw.MaxLength < pw.MinLength {
		return fmt.Errorf("security.password.max_length must not be below min_length")
	}
	return nil
}

// MinPasswordLength is the shortest password policy accepted
const MinPasswordLength = 8

// Default returns the configuration built from defaults only
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8501"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "voc")
	v.SetDefault("database.user", "voc")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.query_timeout", "5s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.password.min_length", 8)
	v.SetDefault("security.password.max_length", 0)
	v.SetDefault("security.password.require_upper", true)
	v.SetDefault("security.password.require_lower", true)
	v.SetDefault("security.password.require_digit", true)
	v.SetDefault("security.password.argon2_memory", 65536)
	v.SetDefault("security.password.argon2_iterations", 3)
	v.SetDefault("security.password.argon2_parallelism", 4)

	v.SetDefault("security.tokens.secret", "")
	v.SetDefault("security.tokens.issuer", "voc-analytics")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.login_limit", 10)
	v.SetDefault("security.rate_limiting.login_window", "15m")

	v.SetDefault("security.allow_registration", false)

	// Session defaults
	v.SetDefault("sessions.ttl", "24h")
	v.SetDefault("sessions.cleanup_interval", "1h")
	v.SetDefault("sessions.cookie_name", "voc_session")
	v.SetDefault("sessions.cookie_secure", false)

	// User directory defaults
	v.SetDefault("users.delete_mode", DeleteModeSoft)
	v.SetDefault("users.new_user_window", "720h")

	// Audit defaults
	v.SetDefault("audit.on_user_delete", AuditRetain)
}
