package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Security  SecurityConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
	Alert     AlertConfig
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CookieSecure      bool
}

// SecurityConfig holds session lifetime, login throttling and timing-attack settings
type SecurityConfig struct {
	SessionMaxDuration time.Duration
	SessionMaxIdle     time.Duration
	LoginMaxAttempts   int
	LoginWindow        time.Duration
	LoginIPMaxAttempts int
	TimingDelayBase    time.Duration
	TimingDelayRandom  time.Duration
	CleanupInterval    time.Duration
}

type AuditConfig struct {
	Capacity       int
	Retention      time.Duration
	ArchiveEnabled bool
}

type RateLimitConfig struct {
	Backend       string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AlertConfig struct {
	EmailTo     string
	EmailFrom   string
	MinSeverity string
	AWSRegion   string
}

// Enabled reports whether alert e-mails should be sent
func (c AlertConfig) Enabled() bool {
	return c.EmailTo != ""
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
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "sembalun"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:        int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", env != "production"),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			CookieSecure:      getEnvAsBool("COOKIE_SECURE", env == "production"),
		},
		Security: SecurityConfig{
			SessionMaxDuration: getEnvAsDuration("SESSION_MAX_DURATION", 24*time.Hour),
			SessionMaxIdle:     getEnvAsDuration("SESSION_MAX_IDLE", 30*time.Minute),
			LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginWindow:        getEnvAsDuration("LOGIN_WINDOW", 15*time.Minute),
			LoginIPMaxAttempts: getEnvAsInt("LOGIN_IP_MAX_ATTEMPTS", 20),
			TimingDelayBase:    time.Duration(getEnvAsInt("TIMING_DELAY_BASE_MS", 500)) * time.Millisecond,
			TimingDelayRandom:  time.Duration(getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100)) * time.Millisecond,
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Minute),
		},
		Audit: AuditConfig{
			Capacity:       getEnvAsInt("AUDIT_LOG_CAPACITY", 10000),
			Retention:      getEnvAsDuration("AUDIT_RETENTION", 7*24*time.Hour),
			ArchiveEnabled: getEnvAsBool("AUDIT_ARCHIVE_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
		},
		Alert: AlertConfig{
			EmailTo:     getEnv("ALERT_EMAIL_TO", ""),
			EmailFrom:   getEnv("ALERT_EMAIL_FROM", "security@sembalun.app"),
			MinSeverity: getEnv("ALERT_MIN_SEVERITY", "critical"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		},
	}

	if cfg.Database.URL == "" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD or DATABASE_URL is required")
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
	if c.Security.SessionMaxDuration <= 0 || c.Security.SessionMaxIdle <= 0 {
		return fmt.Errorf("SESSION_MAX_DURATION and SESSION_MAX_IDLE must be positive")
	}
	if c.Security.SessionMaxIdle > c.Security.SessionMaxDuration {
		return fmt.Errorf("SESSION_MAX_IDLE (%s) cannot exceed SESSION_MAX_DURATION (%s)",
			c.Security.SessionMaxIdle, c.Security.SessionMaxDuration)
	}
	if c.Security.LoginMaxAttempts < 1 || c.Security.LoginIPMaxAttempts < 1 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS and LOGIN_IP_MAX_ATTEMPTS must be at least 1")
	}
	// the redis store counts in milliseconds
	if c.Security.LoginWindow < time.Millisecond {
		return fmt.Errorf("LOGIN_WINDOW must be at least 1ms (got %s)", c.Security.LoginWindow)
	}
	if c.Security.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	if c.Audit.Capacity < 1 {
		return fmt.Errorf("AUDIT_LOG_CAPACITY must be at least 1")
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis (got %q)", c.RateLimit.Backend)
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
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
	if c.URL != "" {
		return c.URL
	}
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:8080",
	}
}
