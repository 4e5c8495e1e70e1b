package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Redis resolution cache configuration
	Redis RedisConfig `yaml:"redis"`

	// Invitation flow configuration
	Invitations InvitationConfig `yaml:"invitations"`

	// Email delivery configuration
	Email EmailConfig `yaml:"email"`

	// Token verification configuration
	Auth AuthConfig `yaml:"auth"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Public base URL used in invitation and verification links
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// RedisConfig holds the tenant resolution cache configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// InvitationConfig holds invitation flow settings
type InvitationConfig struct {
	ValidityDays     int  `yaml:"validity_days"`
	ActivateOnAccept bool `yaml:"activate_on_accept"`
}

// EmailConfig holds outbound email settings
type EmailConfig struct {
	// Provider is "ses" or "log"
	Provider    string `yaml:"provider"`
	SESRegion   string `yaml:"ses_region"`
	FromAddress string `yaml:"from_address"`
}

// AuthConfig holds OIDC token verification settings. When the issuer
// URL is empty the API runs without the authentication middleware,
// which is only suitable for local development.
type AuthConfig struct {
	OIDCIssuerURL string `yaml:"oidc_issuer_url"`
	OIDCClientID  string `yaml:"oidc_client_id"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration from environment variables. If
// GATEHOUSE_CONFIG_FILE is set, that YAML file is loaded first and the
// environment overrides it.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("GATEHOUSE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			BaseURL:         "http://localhost:8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 30 * time.Second,
		},
		Invitations: InvitationConfig{
			ValidityDays: 7,
		},
		Email: EmailConfig{
			Provider:    "log",
			FromAddress: "no-reply@gatehouse.local",
		},
		Observability: ObservabilityConfig{
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("GATEHOUSE_HOST", c.Server.Host)
	c.Server.Port = getEnv("GATEHOUSE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("GATEHOUSE_HEALTH_PORT", c.Server.HealthPort)
	c.Server.BaseURL = getEnv("GATEHOUSE_BASE_URL", c.Server.BaseURL)

	c.Database.URL = getEnv("GATEHOUSE_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("GATEHOUSE_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnLifetime = getEnvDuration("GATEHOUSE_POSTGRES_CONN_LIFETIME", c.Database.ConnLifetime)

	c.Redis.Enabled = getEnvBool("GATEHOUSE_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("GATEHOUSE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("GATEHOUSE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("GATEHOUSE_REDIS_DB", c.Redis.DB)
	c.Redis.CacheTTL = getEnvDuration("GATEHOUSE_REDIS_CACHE_TTL", c.Redis.CacheTTL)

	c.Invitations.ValidityDays = getEnvInt("GATEHOUSE_INVITATION_VALIDITY_DAYS", c.Invitations.ValidityDays)
	c.Invitations.ActivateOnAccept = getEnvBool("GATEHOUSE_ACTIVATE_ON_ACCEPT", c.Invitations.ActivateOnAccept)

	c.Auth.OIDCIssuerURL = getEnv("GATEHOUSE_OIDC_ISSUER_URL", c.Auth.OIDCIssuerURL)
	c.Auth.OIDCClientID = getEnv("GATEHOUSE_OIDC_CLIENT_ID", c.Auth.OIDCClientID)

	c.Email.Provider = getEnv("GATEHOUSE_EMAIL_PROVIDER", c.Email.Provider)
	c.Email.SESRegion = getEnv("GATEHOUSE_SES_REGION", c.Email.SESRegion)
	c.Email.FromAddress = getEnv("GATEHOUSE_EMAIL_FROM", c.Email.FromAddress)

	c.Observability.LogLevelName = getEnv("GATEHOUSE_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
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
		return fmt.Errorf("postgres URL is required")
	}
	if c.Invitations.ValidityDays <= 0 {
		return fmt.Errorf("invitation validity must be at least one day")
	}
	if c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC client ID is required when an issuer URL is set")
	}
	switch c.Email.Provider {
	case "log":
	case "ses":
		if c.Email.SESRegion == "" {
			return fmt.Errorf("SES region is required for the ses email provider")
		}
		if c.Email.FromAddress == "" {
			return fmt.Errorf("from address is required for the ses email provider")
		}
	default:
		return fmt.Errorf("invalid email provider: %s (must be log or ses)", c.Email.Provider)
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
