// Package config provides configuration management for docmem.
// It loads settings from environment variables with the DOCMEM_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage engines.
const (
	EngineFilesystem = "filesystem"
	EngineSQLite     = "sqlite"
)

// Security modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds all configuration settings for docmem.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Security SecurityConfig
	Engine   EngineConfig
	Sweep    SweepConfig
	Log      LogConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains storage configuration.
type StorageConfig struct {
	StorageEngine  string // Storage engine: filesystem or sqlite (default: filesystem)
	DataPath       string // Path to data directory (default: ./data)
	PolicyPath     string // Policy registry file, YAML or JSON (default: ./config/policies.yaml)
	BreakerEnabled bool   // Wrap the document store in a circuit breaker (default: false)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string  // Security mode: development, production (default: development)
	APIToken     string  // API authentication token
	RateLimit    float64 // Requests per second per tenant (default: 20)
	RateBurst    int     // Burst size per tenant (default: 40)
}

// EngineConfig contains coordinator settings.
type EngineConfig struct {
	IdempotencyCacheSize int // Remembered idempotency keys (default: 10000, 0 disables)
}

// SweepConfig contains background sweeper settings.
type SweepConfig struct {
	Interval time.Duration // Time between sweeps (default: 0, disabled)
	PolicyID string        // Policy applied by the sweeper (default: default)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text or json (default: text)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the DOCMEM_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("DOCMEM_PORT", 6464),
			Host: getEnv("DOCMEM_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine:  getEnv("DOCMEM_STORAGE_ENGINE", EngineFilesystem),
			DataPath:       getEnv("DOCMEM_DATA_PATH", "./data"),
			PolicyPath:     getEnv("DOCMEM_POLICY_PATH", "./config/policies.yaml"),
			BreakerEnabled: getEnvBool("DOCMEM_BREAKER_ENABLED", false),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("DOCMEM_SECURITY_MODE", ModeDevelopment),
			APIToken:     getEnv("DOCMEM_API_TOKEN", ""),
			RateLimit:    getEnvFloat("DOCMEM_RATE_LIMIT", 20),
			RateBurst:    getEnvInt("DOCMEM_RATE_BURST", 40),
		},
		Engine: EngineConfig{
			IdempotencyCacheSize: getEnvInt("DOCMEM_IDEMPOTENCY_CACHE", 10000),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("DOCMEM_SWEEP_INTERVAL", 0),
			PolicyID: getEnv("DOCMEM_SWEEP_POLICY", "default"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("DOCMEM_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("DOCMEM_LOG_FORMAT", "text")),
		},
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	switch c.Storage.StorageEngine {
	case EngineFilesystem, EngineSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.StorageEngine))
	}
	if c.Storage.DataPath == "" {
		errs = append(errs, errors.New("data path is required"))
	}
	switch c.Security.SecurityMode {
	case ModeDevelopment:
	case ModeProduction:
		if c.Security.APIToken == "" {
			errs = append(errs, errors.New("production mode requires DOCMEM_API_TOKEN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown security mode %q", c.Security.SecurityMode))
	}
	if c.Security.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit %v is negative", c.Security.RateLimit))
	}
	if c.Security.RateLimit > 0 && c.Security.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate burst must be at least 1, got %d", c.Security.RateBurst))
	}
	if c.Engine.IdempotencyCacheSize < 0 {
		errs = append(errs, fmt.Errorf("idempotency cache size %d is negative", c.Engine.IdempotencyCacheSize))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, fmt.Errorf("sweep interval %v is negative", c.Sweep.Interval))
	}
	if c.Sweep.Interval > 0 && c.Sweep.PolicyID == "" {
		errs = append(errs, errors.New("sweeping requires a policy id"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
