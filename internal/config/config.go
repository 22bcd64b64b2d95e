package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv            string
	Port              string
	JWTSecret         string
	RedisURL          string
	FeedChannel       string
	LogLevel          string
	LogFormat         string
	MaxSessionsPerUser int
	ConnRatePerSecond float64
	ConnBurst         int
}

func Load() (*Config, error) {
	// Optional .env for local development; ignored when absent
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		FeedChannel: getEnv("FEED_CHANNEL", "notifications"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	var err error
	cfg.MaxSessionsPerUser, err = getEnvInt("MAX_SESSIONS_PER_USER", 50)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSessionsPerUser < 1 {
		return nil, fmt.Errorf("MAX_SESSIONS_PER_USER must be at least 1")
	}

	cfg.ConnRatePerSecond, err = getEnvFloat("CONN_RATE_PER_SECOND", 10)
	if err != nil {
		return nil, err
	}
	cfg.ConnBurst, err = getEnvInt("CONN_BURST", 20)
	if err != nil {
		return nil, err
	}
	if cfg.ConnRatePerSecond <= 0 || cfg.ConnBurst < 1 {
		return nil, fmt.Errorf("connection rate limit settings must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return parsed, nil
}
