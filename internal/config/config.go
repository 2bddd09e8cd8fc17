package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the zone selection server
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Selection SelectionConfig
	Catalog   CatalogConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
	RateLimit    string

	// Browser origins allowed for CORS and websocket upgrades
	AllowedOrigins []string
}

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StoreConfig selects where per-user selections are persisted
type StoreConfig struct {
	Backend      string
	KeyPrefix    string
	WriteTimeout time.Duration
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
}

// SelectionConfig holds the defaults applied to every selection engine
type SelectionConfig struct {
	Mode           string
	MaxSelections  int
	MaxHistorySize int
	BatchUpdates   bool
	Debounce       time.Duration
	Geodesic       bool
}

// Zone catalog sources
const (
	CatalogFile     = "file"
	CatalogDatabase = "database"
)

// CatalogConfig points at the zone catalog
type CatalogConfig struct {
	Source string
	Path   string
	Watch  bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and .env file.
// The .env file is loaded from the current working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Environment variables can still be set directly
		log.Warn().Err(err).Msg(".env file not found (this is OK if using environment variables)")
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			RateLimit:    getEnv("RATE_LIMIT", "600-M"),

			AllowedOrigins: getListEnv("CORS_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			}),
		},
		Store: StoreConfig{
			Backend:      strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			KeyPrefix:    getEnv("STORE_KEY_PREFIX", "zoneselect:"),
			WriteTimeout: getDurationEnv("STORE_WRITE_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "127.0.0.1"),
			Port:     getIntEnv("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "zoneselect_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Selection: SelectionConfig{
			Mode:           getEnv("SELECTION_MODE", "multiple"),
			MaxSelections:  getIntEnv("SELECTION_MAX", 0),
			MaxHistorySize: getIntEnv("SELECTION_HISTORY_SIZE", 50),
			BatchUpdates:   getBoolEnv("SELECTION_BATCH", true),
			Debounce:       getDurationEnv("SELECTION_DEBOUNCE", 100*time.Millisecond),
			Geodesic:       getBoolEnv("SELECTION_GEODESIC", false),
		},
		Catalog: CatalogConfig{
			Source: strings.ToLower(getEnv("ZONES_SOURCE", CatalogFile)),
			Path:   getEnv("ZONES_PATH", "zones.geojson"),
			Watch:  getBoolEnv("ZONES_WATCH", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND %q is not one of memory, redis, postgres", c.Store.Backend)
	}
	switch c.Selection.Mode {
	case "single", "multiple", "range":
	default:
		return fmt.Errorf("SELECTION_MODE %q is not one of single, multiple, range", c.Selection.Mode)
	}
	switch c.Catalog.Source {
	case CatalogFile:
	case CatalogDatabase:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the database zone catalog")
		}
	default:
		return fmt.Errorf("ZONES_SOURCE %q is not one of file, database", c.Catalog.Source)
	}
	if c.Selection.MaxSelections < 0 {
		return fmt.Errorf("SELECTION_MAX must not be negative")
	}
	if c.Selection.Debounce < 0 {
		return fmt.Errorf("SELECTION_DEBOUNCE must not be negative")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Addr returns the redis host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).Msg("invalid integer value, using default")
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Bool("default", defaultValue).Msg("invalid boolean value, using default")
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("invalid duration value, using default")
		return defaultValue
	}
	return duration
}
