package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/mockapi/broker"
	mockconfig "github.com/example/diary-sync/internal/mockapi/config"
	"github.com/example/diary-sync/internal/mockapi/handlers"
	"github.com/example/diary-sync/internal/mockapi/store"
	"github.com/example/diary-sync/internal/platform/auth"
	"github.com/example/diary-sync/internal/platform/config"
	"github.com/example/diary-sync/internal/platform/db"
	"github.com/example/diary-sync/internal/platform/httpserver"
	"github.com/example/diary-sync/internal/platform/logging"
	"github.com/example/diary-sync/internal/platform/natsconn"
	"github.com/example/diary-sync/internal/platform/run"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	mockCfg, err := mockconfig.Load()
	if err != nil {
		log.Error("diarymock config", zap.Error(err))
		run.Exit(1)
	}

	st, ready, closeStore := initStore(log, cfg, mockCfg)
	b, closeBroker := initBroker(log, cfg, mockCfg)

	if mockCfg.Seed {
		if err := store.Seed(context.Background(), st); err != nil {
			log.Error("seed", zap.Error(err))
			run.Exit(1)
		}
		log.Info("demo entries seeded", zap.String("author_id", store.DemoAuthorID))
	}

	var limiter *handlers.RateLimiter
	if mockCfg.RateLimit > 0 {
		limiter = handlers.NewRateLimiter(mockCfg.RateLimit, mockCfg.RateBurst)
	}
	r := handlers.NewRouter(handlers.Deps{
		Store:     st,
		Broker:    b,
		Verifier:  auth.JWTVerifier{Secret: mockCfg.JWTSecret},
		Log:       log,
		Limiter:   limiter,
		Ready:     ready,
		Keepalive: mockCfg.Keepalive,
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		stopped := make(chan struct{})
		go func() {
			runner.Graceful(ctx, "http", srv.Shutdown)
			close(stopped)
		}()
		err := srv.Start(log)
		if errors.Is(err, http.ErrServerClosed) {
			<-stopped
			return nil
		}
		return err
	})

	closeBroker()
	closeStore()
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// initStore selects the store backend.
// In production (APP_ENV=production) it requires a working Postgres connection
// and terminates the process otherwise.
func initStore(log *zap.Logger, cfg config.AppConfig, mockCfg mockconfig.Config) (store.Store, func() error, func()) {
	if mockCfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory store (development only)")
		return store.NewInMemoryStore(), nil, func() {}
	}

	pool, err := db.Open(context.Background(), mockCfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return store.NewInMemoryStore(), nil, func() {}
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(context.Background()); err != nil {
		pool.Close()
		log.Error("postgres migrate", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("store: postgres")
	return pg, db.Ready(pool), pool.Close
}

// initBroker selects the notification fan-out. Without NATS every stream
// must be served by this process.
func initBroker(log *zap.Logger, cfg config.AppConfig, mockCfg mockconfig.Config) (broker.Broker, func()) {
	if mockCfg.NATSURL == "" {
		log.Info("broker: in-process")
		return broker.NewMemory(log), func() {}
	}

	nc, err := natsconn.Connect(natsconn.Options{URL: mockCfg.NATSURL, Name: cfg.ServiceName, Log: log})
	if err != nil {
		if cfg.IsProduction() {
			log.Error("NATS is required in production", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("NATS unavailable, falling back to in-process broker", zap.Error(err))
		return broker.NewMemory(log), func() {}
	}
	log.Info("broker: nats")
	return broker.NewNATS(nc, log), func() {
		if err := natsconn.Drain(nc, natsconn.DefaultDrainTimeout); err != nil {
			log.Warn("nats drain", zap.Error(err))
		}
	}
}
