package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	"github.com/joho/godotenv"
)

// Email providers
const (
	EmailProviderSES  = "ses"
	EmailProviderSMTP = "smtp"
)

// Rate limit ledger backends
const (
	RateLimitStorePostgres = "postgres"
	RateLimitStoreRedis    = "redis"
)

// bcrypt's floor for the adaptive work factor
const minBcryptCost = 10

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Password PasswordConfig
	Email    EmailConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string // CORS; empty disables cross-origin access
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	AdminEmail        string
	AdminPassword     string
}

// PasswordConfig drives hashing, reset tokens and the reset rate limit ledger.
type PasswordConfig struct {
	BcryptCost         int
	ResetTokenTTL      time.Duration
	MaxResetAttempts   int
	ResetWindow        time.Duration
	ResetRoles         []string // roles allowed to use the reset flow
	MinResponseTime    time.Duration
	ResponseJitter     time.Duration
	IPRequestsPerMin   int
	CleanupInterval    time.Duration
	RateLimitRetention time.Duration
}

type EmailConfig struct {
	Provider     string
	From         string
	ResetURLBase string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

type RedisConfig struct {
	URL            string
	RateLimitStore string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "stationcms"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			AdminEmail:        strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
			AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		},
		Password: PasswordConfig{
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
			ResetTokenTTL:      getEnvAsDuration("PASSWORD_RESET_TOKEN_TTL", 1*time.Hour),
			MaxResetAttempts:   getEnvAsInt("PASSWORD_RESET_MAX_ATTEMPTS", 3),
			ResetWindow:        getEnvAsDuration("PASSWORD_RESET_WINDOW", 15*time.Minute),
			ResetRoles:         getEnvAsSlice("PASSWORD_RESET_ROLES", []string{"admin", "editor"}),
			MinResponseTime:    getEnvAsDuration("PASSWORD_RESET_MIN_RESPONSE", 300*time.Millisecond),
			ResponseJitter:     getEnvAsDuration("PASSWORD_RESET_RESPONSE_JITTER", 100*time.Millisecond),
			IPRequestsPerMin:   getEnvAsInt("PASSWORD_RESET_IP_LIMIT", 10),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			RateLimitRetention: getEnvAsDuration("RATE_LIMIT_RETENTION", 24*time.Hour),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
			From:         getEnv("EMAIL_FROM", "no-reply@localhost"),
			ResetURLBase: getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:3000/admin/reset-password"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 1025),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_URL", ""),
			RateLimitStore: strings.ToLower(getEnv("RATE_LIMIT_STORE", RateLimitStorePostgres)),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Password.BcryptCost < minBcryptCost {
		return fmt.Errorf("BCRYPT_COST must be at least %d (got %d)", minBcryptCost, c.Password.BcryptCost)
	}
	if c.Password.MaxResetAttempts < 1 {
		return fmt.Errorf("PASSWORD_RESET_MAX_ATTEMPTS must be positive")
	}
	if c.Password.ResetWindow <= 0 || c.Password.ResetTokenTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_WINDOW and PASSWORD_RESET_TOKEN_TTL must be positive")
	}
	if c.Password.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	// Ledger rows must outlive their window or the limit resets early
	if c.Password.RateLimitRetention < c.Password.ResetWindow {
		return fmt.Errorf("RATE_LIMIT_RETENTION must be at least PASSWORD_RESET_WINDOW (%s)", c.Password.ResetWindow)
	}
	if len(c.Password.ResetRoles) == 0 {
		return fmt.Errorf("PASSWORD_RESET_ROLES cannot be empty")
	}
	for _, role := range c.Password.ResetRoles {
		if !models.ValidRole(role) {
			return fmt.Errorf("PASSWORD_RESET_ROLES contains unknown role %q", role)
		}
	}

	switch c.Email.Provider {
	case EmailProviderSES:
		if c.Email.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required for the ses email provider")
		}
	case EmailProviderSMTP:
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp email provider")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderSMTP, c.Email.Provider)
	}

	switch c.Redis.RateLimitStore {
	case RateLimitStorePostgres:
	case RateLimitStoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be %q or %q (got %q)", RateLimitStorePostgres, RateLimitStoreRedis, c.Redis.RateLimitStore)
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsSlice splits a comma separated value, dropping empty entries
func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
