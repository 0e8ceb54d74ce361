package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pacehq/pace/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Auth          AuthConfig
	Workflow      WorkflowConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration, including the optional
// per-tenant routing map loaded from a YAML file
type DatabaseConfig struct {
	PostgresURL  string
	MaxOpenConns int
	MaxIdleConns int
	// TenantRouting maps tenant ID -> DSN. A deployment dedicated to one
	// tenant (PACE_DEFAULT_TENANT) opens its routed DSN; tenants without an
	// entry share PostgresURL.
	TenantRouting map[string]string
}

// DSN returns the connection string for a deployment serving the given
// tenant: the routed per-tenant DSN when one is declared, else the shared
// PostgresURL.
func (c DatabaseConfig) DSN(tenant string) string {
	if dsn, ok := c.TenantRouting[tenant]; ok && dsn != "" {
		return dsn
	}
	return c.PostgresURL
}

// CacheConfig selects and configures the capability cache backend
type CacheConfig struct {
	Backend       string // "memory" or "redis"
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	MemorySize    int
}

// AuthConfig holds identity and permission configuration
type AuthConfig struct {
	JWTSecretKey  string
	DefaultTenant string
	// AdminSeed maps tenant ID to user IDs that are treated as administrators
	// even before a capability record exists. Format of PACE_ADMIN_SEED:
	// "tenant1:1,2;tenant2:7"
	AdminSeed map[string][]int64
}

// WorkflowConfig holds workflow engine policy knobs
type WorkflowConfig struct {
	// AccessRequestDedupWindow suppresses duplicate access requests submitted
	// within the window. Zero disables suppression.
	AccessRequestDedupWindow time.Duration
	// SweepSchedule is a cron expression for the stage deadline sweeper.
	// Empty disables the sweeper.
	SweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PACE_HOST", "0.0.0.0"),
			Port:            getEnv("PACE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PACE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PACE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PACE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PACE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			PostgresURL:  getEnv("PACE_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("PACE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("PACE_POSTGRES_IDLE_CONNS", 5),
		},
		Cache: CacheConfig{
			Backend:       getEnv("PACE_CACHE_BACKEND", "memory"),
			RedisURL:      getEnv("PACE_REDIS_URL", ""),
			RedisPassword: getEnv("PACE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("PACE_REDIS_DB", 0),
			TTL:           getEnvDuration("PACE_CACHE_TTL", 15*time.Minute),
			MemorySize:    getEnvInt("PACE_CACHE_SIZE", 4096),
		},
		Auth: AuthConfig{
			JWTSecretKey:  getEnv("JWT_SECRET_KEY", ""),
			DefaultTenant: getEnv("PACE_DEFAULT_TENANT", ""),
			AdminSeed:     parseAdminSeed(getEnv("PACE_ADMIN_SEED", "")),
		},
		Workflow: WorkflowConfig{
			AccessRequestDedupWindow: getEnvDuration("PACE_ACCESS_REQUEST_DEDUP_WINDOW", 5*time.Minute),
			SweepSchedule:            getEnv("PACE_SWEEP_SCHEDULE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("PACE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("PACE_METRICS_ENABLED", true),
		},
	}

	if routingFile := getEnv("PACE_TENANT_ROUTING_FILE", ""); routingFile != "" {
		routing, err := loadTenantRouting(routingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load tenant routing map: %w", err)
		}
		cfg.Database.TenantRouting = routing
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	return nil
}

// tenantRoutingFile is the YAML shape of PACE_TENANT_ROUTING_FILE:
//
//	tenants:
//	  acme: postgres://.../acme
//	  globex: postgres://.../globex
type tenantRoutingFile struct {
	Tenants map[string]string `yaml:"tenants"`
}

func loadTenantRouting(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed tenantRoutingFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return parsed.Tenants, nil
}

// parseAdminSeed parses "tenant1:1,2;tenant2:7" into a tenant -> user IDs map
func parseAdminSeed(raw string) map[string][]int64 {
	seed := make(map[string][]int64)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tenant := strings.TrimSpace(parts[0])
		for _, idStr := range strings.Split(parts[1], ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				continue
			}
			seed[tenant] = append(seed[tenant], id)
		}
	}
	return seed
}

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
