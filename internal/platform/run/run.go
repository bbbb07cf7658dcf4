package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log}
}

func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		// start owns the graceful shutdown; give it the time it needs.
		select {
		case <-errCh:
		case <-time.After(ShutdownTimeout + time.Second):
			r.Logger.Warn("shutdown timed out")
		}
		return 0
	case err := <-errCh:
		if err == nil {
			return 0
		}
		if errors.Is(err, http.ErrServerClosed) {
			return 0
		}
		r.Logger.Error("service exited with error", zap.Error(err))
		return 1
	}
}

// ShutdownTimeout bounds each Graceful shutdown call.
const ShutdownTimeout = 10 * time.Second

// Graceful blocks until ctx is done, then calls shutdown with a fresh
// context bounded by ShutdownTimeout.
func (r *Runner) Graceful(ctx context.Context, name string, shutdown func(context.Context) error) {
	<-ctx.Done()
	c, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := shutdown(c); err != nil {
		r.Logger.Warn("shutdown", zap.String("component", name), zap.Error(err))
		return
	}
	r.Logger.Info("stopped", zap.String("component", name))
}

func Exit(code int) {
	os.Exit(code)
}
