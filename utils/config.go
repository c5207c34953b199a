package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig
	VK        VKConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Collector CollectorConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// VKConfig holds VK API configuration
type VKConfig struct {
	BaseURL          string
	Version          string
	RequestDelay     time.Duration // per token, between metadata lookups
	WallRequestDelay time.Duration // per token, between wall fetches
	HTTPTimeout      time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string // sqlite3 or postgres
	DSN    string
}

// ServerConfig holds status server configuration
type ServerConfig struct {
	Port                 int // 0 disables the server
	MaxRequestsPerMinute int
}

// CollectorConfig holds the schedule of the ingestion loops
type CollectorConfig struct {
	CommunityUpdatePeriod time.Duration
	CommunitiesBufferSize int
	WallUpdatePeriod      time.Duration
	WallStatsPeriod       time.Duration
}

// LoadConfig loads configuration from the .env file and the environment.
// A missing .env file is not an error: the environment alone is used.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Warn("No .env file, using the environment only")
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "VK Communities"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		VK: VKConfig{
			BaseURL:          getEnv("VK_API_URL", "https://api.vk.com/method/"),
			Version:          getEnv("VK_API_VERSION", "5.74"),
			RequestDelay:     getEnvAsDuration("VK_REQUEST_DELAY", 500*time.Millisecond),
			WallRequestDelay: getEnvAsDuration("VK_WALL_REQUEST_DELAY", 9*time.Second),
			HTTPTimeout:      getEnvAsDuration("VK_HTTP_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "sqlite3"),
			DSN:    getEnv("DATABASE_DSN", "./vkcommunities.db"),
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 8080),
			MaxRequestsPerMinute: getEnvAsInt("STATUS_MAX_REQUESTS_PER_MINUTE", 60),
		},
		Collector: CollectorConfig{
			CommunityUpdatePeriod: getEnvAsDuration("COMMUNITY_UPDATE_PERIOD", 12*time.Hour),
			CommunitiesBufferSize: getEnvAsInt("COMMUNITIES_BUFFER_SIZE", 10000),
			WallUpdatePeriod:      getEnvAsDuration("WALL_UPDATE_PERIOD", 23*time.Hour),
			WallStatsPeriod:       getEnvAsDuration("WALL_STATS_PERIOD", 5*time.Minute),
		},
	}

	// validation
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration parses values like "500ms" or "12h"; a bare integer is seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or postgres, got %q", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN environment variable is required")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"VK_REQUEST_DELAY", config.VK.RequestDelay},
		{"VK_WALL_REQUEST_DELAY", config.VK.WallRequestDelay},
		{"VK_HTTP_TIMEOUT", config.VK.HTTPTimeout},
		{"COMMUNITY_UPDATE_PERIOD", config.Collector.CommunityUpdatePeriod},
		{"WALL_UPDATE_PERIOD", config.Collector.WallUpdatePeriod},
		{"WALL_STATS_PERIOD", config.Collector.WallStatsPeriod},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if config.Collector.CommunitiesBufferSize < 1 {
		return fmt.Errorf("COMMUNITIES_BUFFER_SIZE must be positive")
	}
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 0 and 65535")
	}
	if config.Server.Port != 0 && config.Server.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("STATUS_MAX_REQUESTS_PER_MINUTE must be positive")
	}

	// if we are storing the sqlite db in a nested directory, create the directory
	if config.Database.Driver == "sqlite3" {
		dbDir := filepath.Dir(config.Database.DSN)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	return nil
}
