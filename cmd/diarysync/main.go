package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/clientconfig"
	"github.com/example/diary-sync/internal/diaryclient"
	"github.com/example/diary-sync/internal/interaction"
	"github.com/example/diary-sync/internal/notify"
	"github.com/example/diary-sync/internal/platform/logging"
	"github.com/example/diary-sync/internal/platform/run"
	"github.com/example/diary-sync/internal/shell"
)

func main() {
	entries := flag.String("entry", "", "comma-separated entry ids to load on start")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := clientconfig.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.NewConsole(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	client, err := diaryclient.New(diaryclient.Config{
		BaseURL: cfg.APIURL,
		Token:   cfg.Token,
		Timeout: cfg.HTTPTimeout,
		Log:     log.Named("api"),
	})
	if err != nil {
		log.Error("diary client", zap.Error(err))
		run.Exit(1)
	}

	sh := &shell.Shell{Out: os.Stdout, Notifications: client}
	sh.Store = interaction.New(client, interaction.Options{
		Log:       log.Named("interaction"),
		LikeDelay: cfg.LikeDebounce,
		Orphans:   cfg.Orphans,
		OnNotice:  sh.LikeNotice,
	})
	sh.Channel = notify.New(client, notify.NewCounter(), notify.Options{
		Log:       log.Named("notify"),
		StreamURL: client.StreamURL(),
		// No Timeout: the stream stays open.
		HTTPClient:     &http.Client{},
		ReconnectBase:  cfg.ReconnectBase,
		ReconnectMax:   cfg.ReconnectMax,
		MaxAttempts:    cfg.MaxAttempts,
		OnNotification: sh.Notification,
		OnStateChange:  sh.StreamState,
		OnNotice:       sh.StreamNotice,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if err := sh.Channel.Start(ctx, client.Token()); err != nil {
			return err
		}
		for _, id := range strings.Split(*entries, ",") {
			if id = strings.TrimSpace(id); id == "" {
				continue
			}
			if err := sh.Exec(ctx, "load "+id); err != nil {
				log.Warn("preload entry", zap.String("entry_id", id), zap.Error(err))
			}
		}
		return sh.Run(ctx, os.Stdin)
	})

	// Likes still inside the debounce window are dropped here.
	sh.Store.Close()
	sh.Channel.Close()
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}
