package config

import (
	"errors"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/diary-sync/internal/platform/config"
)

type Config struct {
	JWTSecret []byte
	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string
	// NATSURL selects the NATS broker; empty means in-process fan-out.
	NATSURL string

	// RateLimit is the per-user write budget in requests per second.
	RateLimit float64
	RateBurst int
	Keepalive time.Duration
	// Seed loads demo entries on start.
	Seed bool
}

func Load() (Config, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	cfg := Config{
		JWTSecret:   []byte(secret),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		Seed:        !strings.EqualFold(strings.TrimSpace(os.Getenv("DIARY_SEED")), "false"),
	}

	var err error
	if cfg.RateLimit, err = platformconfig.Float("RATE_LIMIT_RPS", 5); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = platformconfig.Int("RATE_LIMIT_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.Keepalive, err = platformconfig.Duration("STREAM_KEEPALIVE", 25*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
