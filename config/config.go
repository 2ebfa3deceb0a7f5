// Package config loads process configuration from the environment,
// with an optional .env file for development. Exchange credentials
// are deliberately absent: they live in each user's settings row.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Auth     AuthConfig
	AI       AIConfig
	Engine   EngineConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port            int
	Production      bool
	StaticFilesPath string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string // debug, info, warn, error
}

type AuthConfig struct {
	JWTSecret string
}

type AIConfig struct {
	Enabled        bool
	Provider       string // claude, openai, deepseek
	APIKey         string
	Model          string
	BrowserPath    string // optional headless browser for future transports
	Timeout        time.Duration
	LegacyResponse bool // accept the older ACTION:/CONFIDENCE: text format
}

type EngineConfig struct {
	UniverseSize    int
	ScanInterval    time.Duration
	MonitorInterval time.Duration
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
	TTL     time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			Production:      getEnvOrDefault("APP_ENV", "development") == "production",
			StaticFilesPath: getEnvOrDefault("STATIC_FILES_PATH", ""),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("DATABASE_PATH", "data/trading.db"),
		},
		Logging: LoggingConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("AUTH_JWT_SECRET", ""),
		},
		AI: AIConfig{
			Enabled:        getEnvBool("AI_ENABLED", false),
			Provider:       getEnvOrDefault("AI_PROVIDER", "claude"),
			APIKey:         getEnvOrDefault("AI_API_KEY", ""),
			Model:          getEnvOrDefault("AI_MODEL", ""),
			BrowserPath:    getEnvOrDefault("AI_BROWSER_PATH", ""),
			Timeout:        getEnvDuration("AI_TIMEOUT", 15*time.Second),
			LegacyResponse: getEnvBool("AI_LEGACY_RESPONSE", false),
		},
		Engine: EngineConfig{
			UniverseSize:    getEnvInt("ENGINE_UNIVERSE_SIZE", 20),
			ScanInterval:    getEnvDuration("ENGINE_SCAN_INTERVAL", 30*time.Minute),
			MonitorInterval: getEnvDuration("ENGINE_MONITOR_INTERVAL", 10*time.Second),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			Addr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			DB:      getEnvInt("REDIS_DB", 0),
			TTL:     getEnvDuration("REDIS_TTL", 30*time.Second),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		if cfg.Server.Production {
			return nil, fmt.Errorf("config: AUTH_JWT_SECRET is required in production")
		}
		cfg.Auth.JWTSecret = "dev-only-insecure-secret"
	}
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
