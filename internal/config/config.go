// Path: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	minProductionSecretLen = 32
)

type Config struct {
	Environment   string
	Port          string
	StorageDriver string
	DatabaseURL   string
	JWTSecret     string
	SCASecret     string

	TANLength      int
	TANTTL         time.Duration
	TANMaxAttempts int
	TANChannel     string
	TANHasher      string

	MutationRetries int

	AllowedOrigins    string
	RateLimitEnabled  bool
	RateLimitInitiate int
	RateLimitExecute  int
	LogLevel          string
}

// Production reports whether raw TANs must be kept out of responses.
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// Load reads the configuration from the environment. Callers that want a
// .env file should load it with godotenv first.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getString("ENVIRONMENT", EnvDevelopment),
		Port:           getString("PORT", "3000"),
		StorageDriver:  getString("STORAGE_DRIVER", DriverPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		SCASecret:      os.Getenv("SCA_SECRET"),
		TANChannel:     getString("TAN_CHANNEL", "pushTAN"),
		TANHasher:      getString("TAN_HASHER", "hmac"),
		AllowedOrigins: getString("ALLOWED_ORIGINS", "http://localhost:3000"),
		LogLevel:       getString("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.TANLength, err = getInt("TAN_LENGTH", 6); err != nil {
		return nil, err
	}
	if cfg.TANMaxAttempts, err = getInt("TAN_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MutationRetries, err = getInt("MUTATION_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitInitiate, err = getInt("RATE_LIMIT_INITIATE", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitExecute, err = getInt("RATE_LIMIT_EXECUTE", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitEnabled, err = getBool("RATE_LIMIT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.TANTTL, err = getDuration("TAN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants Load relies on.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of development, testing, production; got %q", c.Environment)
	}

	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for the postgres driver")
		}
	case DriverMemory:
		if c.Production() {
			return fmt.Errorf("the memory storage driver cannot be used in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.SCASecret == "" {
		return fmt.Errorf("SCA_SECRET environment variable is required")
	}
	if c.Production() {
		if len(c.JWTSecret) < minProductionSecretLen || len(c.SCASecret) < minProductionSecretLen {
			return fmt.Errorf("JWT_SECRET and SCA_SECRET must be at least %d bytes in production", minProductionSecretLen)
		}
	}

	if c.TANLength < 4 || c.TANLength > 12 {
		return fmt.Errorf("TAN_LENGTH must be between 4 and 12, got %d", c.TANLength)
	}
	if c.TANMaxAttempts < 1 {
		return fmt.Errorf("TAN_MAX_ATTEMPTS must be positive, got %d", c.TANMaxAttempts)
	}
	if c.TANTTL <= 0 {
		return fmt.Errorf("TAN_TTL must be positive, got %s", c.TANTTL)
	}
	if c.MutationRetries < 0 {
		return fmt.Errorf("MUTATION_RETRIES must not be negative, got %d", c.MutationRetries)
	}
	switch c.TANHasher {
	case "hmac", "bcrypt":
	default:
		return fmt.Errorf("TAN_HASHER must be hmac or bcrypt, got %q", c.TANHasher)
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
