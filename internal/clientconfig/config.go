// Package clientconfig reads the sync client's settings from the
// environment.
package clientconfig

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/example/diary-sync/internal/commenttree"
	"github.com/example/diary-sync/internal/debounce"
	"github.com/example/diary-sync/internal/diaryclient"
	"github.com/example/diary-sync/internal/notify"
	platformconfig "github.com/example/diary-sync/internal/platform/config"
)

type Config struct {
	LogLevel string
	APIURL   string
	Token    string

	LikeDebounce time.Duration
	Orphans      commenttree.OrphanPolicy
	HTTPTimeout  time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxAttempts of zero retries the stream forever.
	MaxAttempts uint64
}

func Load() (Config, error) {
	cfg := Config{
		LogLevel: platformconfig.String("LOG_LEVEL", "info"),
		APIURL:   strings.TrimSpace(os.Getenv("DIARY_API_URL")),
		Token:    strings.TrimSpace(os.Getenv("DIARY_TOKEN")),
	}
	if cfg.APIURL == "" {
		return Config{}, errors.New("DIARY_API_URL is required")
	}
	if cfg.Token == "" {
		return Config{}, errors.New("DIARY_TOKEN is required")
	}

	var err error
	if cfg.Orphans, err = commenttree.ParseOrphanPolicy(os.Getenv("ORPHAN_POLICY")); err != nil {
		return Config{}, err
	}
	if cfg.LikeDebounce, err = platformconfig.Duration("LIKE_DEBOUNCE", debounce.DefaultDelay); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = platformconfig.Duration("HTTP_TIMEOUT", diaryclient.DefaultTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectBase, err = platformconfig.Duration("STREAM_RECONNECT_BASE", notify.DefaultReconnectBase); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMax, err = platformconfig.Duration("STREAM_RECONNECT_MAX", notify.DefaultReconnectMax); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		return Config{}, errors.New("STREAM_RECONNECT_MAX must not be below STREAM_RECONNECT_BASE")
	}
	attempts, err := platformconfig.Int("STREAM_MAX_ATTEMPTS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAttempts = uint64(attempts)
	return cfg, nil
}
