package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestGetEnvAsBoolOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal bool
		expected   bool
	}{
		{"parses true", "true", false, true},
		{"parses 0", "0", true, false},
		{"uses default for empty", "", true, true},
		{"uses default for garbage", "maybe", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tc.envValue)
			if got := getEnvAsBoolOrDefault("TEST_BOOL", tc.defaultVal); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	for _, key := range []string{"STORE_BACKEND", "EVENT_WORKERS", "STREAK_TIMEZONE", "REDIS_URL", "REMINDERS_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.StoreBackend != BackendPostgres {
		t.Errorf("Expected postgres backend, got %q", cfg.StoreBackend)
	}
	if cfg.EventWorkers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.EventWorkers)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC, got %v", cfg.Location())
	}
	if cfg.RemindersEnabled {
		t.Error("Expected reminders disabled by default")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreBackend:   BackendMemory,
			StreakTimezone: "UTC",
			EventWorkers:   1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"memory is self-contained", func(c *Config) {}, ""},
		{"postgres needs url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"mongo needs uri", func(c *Config) { c.StoreBackend = BackendMongo }, "MONGO_URI"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "unknown STORE_BACKEND"},
		{"bad timezone", func(c *Config) { c.StreakTimezone = "Mars/Olympus" }, "STREAK_TIMEZONE"},
		{"no workers", func(c *Config) { c.EventWorkers = 0 }, "EVENT_WORKERS"},
		{"reminders need postgres", func(c *Config) { c.RemindersEnabled = true }, "REMINDERS_ENABLED"},
		{"postgres with url", func(c *Config) {
			c.StoreBackend = BackendPostgres
			c.DatabaseURL = "postgres://localhost/pathway"
			c.RemindersEnabled = true
		}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
