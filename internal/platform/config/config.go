package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	// Env is APP_ENV. "production" turns development fallbacks into errors.
	Env  string
	HTTP HTTPConfig
}

func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Env:         strings.TrimSpace(os.Getenv("APP_ENV")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// String returns the trimmed value of key or fallback when unset.
func String(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Duration parses key as a time.Duration. Unset means fallback; a value
// that does not parse or is negative is an error.
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// Int parses key as a non-negative integer.
func Int(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

// Float parses key as a non-negative float.
func Float(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return f, nil
}
