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

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type Config struct {
	// Server
	Port    string
	Env     string
	LogMode string

	// Storage
	StoreBackend  string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Redis (optional: queue, pub/sub, reminder scheduling)
	RedisURL string

	// JWT
	JWTSecret string

	// Engagement
	CatalogPath    string
	StreakTimezone string
	EventWorkers   int
	EventRateLimit int

	// Reminders
	RemindersEnabled bool

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		Env:              getEnvOrDefault("ENV", "development"),
		LogMode:          getEnvOrDefault("LOG_MODE", "development"),
		StoreBackend:     strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:      getEnvOrDefault("DATABASE_URL", ""),
		MongoURI:         getEnvOrDefault("MONGO_URI", ""),
		MongoDatabase:    getEnvOrDefault("MONGO_DATABASE", "pathway"),
		RedisURL:         getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:        mustGetEnv("JWT_SECRET"),
		CatalogPath:      getEnvOrDefault("CATALOG_PATH", ""),
		StreakTimezone:   getEnvOrDefault("STREAK_TIMEZONE", "UTC"),
		EventWorkers:     getEnvAsIntOrDefault("EVENT_WORKERS", 4),
		EventRateLimit:   getEnvAsIntOrDefault("EVENT_RATE_LIMIT_PER_MINUTE", 120),
		RemindersEnabled: getEnvAsBoolOrDefault("REMINDERS_ENABLED", false),
		SMTPHost:         getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:         getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:         getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:         getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:         getEnvOrDefault("SMTP_FROM", "noreply@pathway.app"),
		FrontendURL:      getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Validate reports settings that cannot work together. It does not dial
// anything.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if _, err := time.LoadLocation(c.StreakTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid STREAK_TIMEZONE %q", c.StreakTimezone))
	}
	if c.EventWorkers < 1 {
		errs = append(errs, errors.New("EVENT_WORKERS must be at least 1"))
	}
	if c.RemindersEnabled && c.StoreBackend != BackendPostgres {
		errs = append(errs, errors.New("REMINDERS_ENABLED needs the postgres backend"))
	}
	return errors.Join(errs...)
}

// Location returns the zone streak days are counted in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.StreakTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
