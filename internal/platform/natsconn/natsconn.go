// Package natsconn opens the NATS connection used for notification fan-out.
package natsconn

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/platform/config"
)

const (
	DefaultMaxReconnects = 5
	DefaultReconnectWait = 2 * time.Second
	DefaultDrainTimeout  = 5 * time.Second
)

// Options configures the connection. Zero values fall back to
// NATS_MAX_RECONNECTS and NATS_RECONNECT_WAIT, then to the defaults above.
type Options struct {
	URL           string
	Name          string // client name shown in server monitoring
	MaxReconnects int
	ReconnectWait time.Duration
	Log           *zap.Logger
}

func (o *Options) resolve() error {
	if o.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	var err error
	if o.MaxReconnects == 0 {
		if o.MaxReconnects, err = config.Int("NATS_MAX_RECONNECTS", DefaultMaxReconnects); err != nil {
			return err
		}
	}
	if o.ReconnectWait == 0 {
		if o.ReconnectWait, err = config.Duration("NATS_RECONNECT_WAIT", DefaultReconnectWait); err != nil {
			return err
		}
	}
	return nil
}

// Connect dials once and fails fast; reconnects only apply to a connection
// that was established.
func Connect(opts Options) (*nats.Conn, error) {
	if err := opts.resolve(); err != nil {
		return nil, err
	}

	log := opts.Log.With(zap.String("nats_url", opts.URL))
	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// Drain flushes pending publishes and unsubscribes before closing. It gives
// up after timeout and closes the connection outright.
func Drain(nc *nats.Conn, timeout time.Duration) error {
	if nc == nil || nc.IsClosed() {
		return nil
	}
	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		nc.Close()
		return fmt.Errorf("nats drain: timed out after %s", timeout)
	}
}
