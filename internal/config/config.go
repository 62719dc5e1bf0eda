// Package config provides environment-aware configuration management for
// LogLine services.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	slruntime "github.com/logline-run/logline/infrastructure/runtime"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds configuration shared by every LogLine service entrypoint.
// Individual cmd/* binaries read the subset of fields relevant to them.
type Config struct {
	// Environment
	Env Environment

	// Identity
	NodeName    string
	IdentityDir string

	// Gateway
	GatewayBind       string
	GatewayJWTSecret  string
	GatewayJWTIssuer  string
	GatewayJWTAudience string

	// Backend service locations, keyed by the names the Gateway's routing
	// table recognizes (engine, rules, timeline, identity, federation).
	EngineURL     string
	RulesURL      string
	TimelineURL   string
	IdentityURL   string
	FederationURL string

	EngineWSURL   string
	TimelineWSURL string

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration
	MigrateOnStart   bool

	// Redis (optional correlation spillover / rule cache backend)
	RedisURL     string
	RedisEnabled bool

	// Logging
	LogLevel  string
	LogFormat string

	// Security
	JWTExpiry         time.Duration
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string

	// Mesh / Engine tuning
	MeshReconnectBase time.Duration
	MeshReconnectMax  time.Duration
	MeshPingInterval  time.Duration
	EngineHighWater   int
	EngineLowWater    int

	// Features
	EnableDebugEndpoints bool
	TestMode             bool
	MetricsEnabled       bool
	MetricsPort          int
}

// Load loads configuration based on the LOGLINE_ENV environment variable
// (falling back to the legacy ENVIRONMENT name for compatibility).
func Load() (*Config, error) {
	envStr := os.Getenv("LOGLINE_ENV")
	if envStr == "" {
		envStr = os.Getenv("ENVIRONMENT")
	}
	if envStr == "" {
		envStr = string(slruntime.Development)
	}

	parsedEnv, ok := slruntime.ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid LOGLINE_ENV: %s (must be development, testing, or production)", envStr)
	}
	env := Environment(parsedEnv)

	// Load environment-specific .env file
	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// (e.g. parse errors) to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{
		Env: env,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	// Identity
	c.NodeName = getEnv("NODE_NAME", "node-1")
	c.IdentityDir = getEnv("LOGLINE_IDENTITY_DIR", defaultIdentityDir())

	// Gateway
	c.GatewayBind = getEnv("GATEWAY_BIND", "0.0.0.0:8070")
	c.GatewayJWTSecret = getEnv("GATEWAY_JWT_SECRET", "")
	if c.GatewayJWTSecret == "" && c.Env == Production {
		return fmt.Errorf("GATEWAY_JWT_SECRET is required in production")
	}
	if c.GatewayJWTSecret == "" {
		c.GatewayJWTSecret = "insecure-development-secret"
	}
	c.GatewayJWTIssuer = getEnv("GATEWAY_JWT_ISSUER", "logline")
	c.GatewayJWTAudience = getEnv("GATEWAY_JWT_AUDIENCE", "logline-mesh")

	// Backend services
	c.EngineURL = getEnv("ENGINE_URL", "http://localhost:8101")
	c.RulesURL = getEnv("RULES_URL", "http://localhost:8102")
	c.TimelineURL = getEnv("TIMELINE_URL", "http://localhost:8103")
	c.IdentityURL = getEnv("IDENTITY_URL", "http://localhost:8104")
	c.FederationURL = getEnv("FEDERATION_URL", "")

	c.EngineWSURL = getEnv("ENGINE_WS_URL", "ws://localhost:8101/mesh")
	c.TimelineWSURL = getEnv("TIMELINE_WS_URL", "ws://localhost:8103/mesh")

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", "")
	if c.DatabaseURL == "" && c.Env == Production {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout := getEnv("DB_IDLE_TIMEOUT", "5m")
	idle, err := time.ParseDuration(dbIdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = idle
	c.MigrateOnStart = getBoolEnv("DB_MIGRATE_ON_START", true)

	// Redis
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisEnabled = c.RedisURL != "" && getBoolEnv("REDIS_ENABLED", true)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	// Security
	jwtExpiry := getEnv("JWT_EXPIRY", "15m")
	c.JWTExpiry, err = time.ParseDuration(jwtExpiry)
	if err != nil {
		return fmt.Errorf("invalid JWT_EXPIRY: %w", err)
	}
	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 100)
	rateLimitWindow := getEnv("RATE_LIMIT_WINDOW", "1m")
	c.RateLimitWindow, err = time.ParseDuration(rateLimitWindow)
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", getEnv("CORS_ORIGINS", "*")), ",")

	// Mesh / Engine tuning
	c.MeshReconnectBase = durationEnv("MESH_RECONNECT_BASE", time.Second)
	c.MeshReconnectMax = durationEnv("MESH_RECONNECT_MAX", 30*time.Second)
	c.MeshPingInterval = durationEnv("MESH_PING_INTERVAL", 15*time.Second)
	c.EngineHighWater = getIntEnv("ENGINE_HIGH_WATER", 10000)
	c.EngineLowWater = getIntEnv("ENGINE_LOW_WATER", 8000)

	// Features
	c.EnableDebugEndpoints = getBoolEnv("ENABLE_DEBUG_ENDPOINTS", false)
	c.TestMode = getBoolEnv("TEST_MODE", false)
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

func defaultIdentityDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/logline/identities"
	}
	return filepath.Join(home, ".config", "logline", "identities")
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsTesting returns true if running in testing environment
func (c *Config) IsTesting() bool {
	return c.Env == Testing
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.GatewayJWTSecret == "insecure-development-secret" {
			return fmt.Errorf("GATEWAY_JWT_SECRET must be set to a real secret in production")
		}
		if c.EnableDebugEndpoints {
			return fmt.Errorf("ENABLE_DEBUG_ENDPOINTS must be false in production")
		}
		if c.TestMode {
			return fmt.Errorf("TEST_MODE must be false in production")
		}
		if !c.RateLimitEnabled {
			return fmt.Errorf("RATE_LIMIT_ENABLED must be true in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}

	if c.EngineLowWater >= c.EngineHighWater {
		return fmt.Errorf("ENGINE_LOW_WATER (%d) must be less than ENGINE_HIGH_WATER (%d)", c.EngineLowWater, c.EngineHighWater)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
