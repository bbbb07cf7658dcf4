// Package notify keeps one server-push notification stream per session and
// the unread counter consistent with it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/platform/auth"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrTerminated       = errors.New("notification channel terminated")
	ErrAlreadyStarted   = errors.New("notification channel already started")
	ErrRetriesExhausted = errors.New("notification stream reconnect attempts exhausted")
	ErrUnauthorized     = errors.New("notification stream rejected the credential")
)

const (
	DefaultReconnectBase = 500 * time.Millisecond
	DefaultReconnectMax  = 30 * time.Second

	EventNotification = "notification"
	// EventReplay carries notifications created while the client was away.
	// The resync on open already counted them.
	EventReplay = "replay"
)

type NoticeKind string

const (
	NoticeStreamLost NoticeKind = "stream_lost"
	NoticeAckFailed  NoticeKind = "ack_failed"
)

// Notice is a non-fatal failure worth showing to the user.
type Notice struct {
	Kind           NoticeKind
	NotificationID domain.ID
	Err            error
}

// API is the notification service the channel talks to besides the stream.
type API interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id domain.ID) error
}

type Options struct {
	Log       *zap.Logger
	StreamURL string
	// HTTPClient carries the stream. It must not set Timeout, which would
	// cut long-lived streams.
	HTTPClient *http.Client

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxAttempts bounds consecutive reconnects; zero means unlimited.
	MaxAttempts uint64

	OnNotification func(domain.Notification)
	OnStateChange  func(State)
	OnNotice       func(Notice)

	Now func() time.Time
}

// Channel is safe for concurrent use. Hooks run on the stream goroutine and
// must not call Close.
type Channel struct {
	api     API
	counter *Counter
	opts    Options
	log     *zap.Logger

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	seen        map[domain.ID]struct{}
	acked       map[domain.ID]struct{}
	lastEventID string
}

func New(api API, counter *Counter, opts Options) *Channel {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		api:     api,
		counter: counter,
		opts:    opts,
		log:     opts.Log,
		seen:    make(map[domain.ID]struct{}),
		acked:   make(map[domain.ID]struct{}),
	}
}

func (c *Channel) Counter() *Counter { return c.counter }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the stream in the background and keeps it open until Close,
// ctx cancellation or exhausted reconnects. An expired or subject-less
// credential is rejected before any connection is attempted. After the
// stream gives up, Start may be called again.
func (c *Channel) Start(ctx context.Context, token string) error {
	if _, err := auth.Inspect(token, c.opts.Now()); err != nil {
		return fmt.Errorf("start notification channel: %w", err)
	}

	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return ErrTerminated
	}
	if c.done != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	c.transition(Connecting)
	go c.run(runCtx, token, done)
	return nil
}

// Close ends the session: the stream and any pending reconnect are
// stopped, the counter is reset and the channel never starts again.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = Terminated
	cancel, done := c.cancel, c.done
	c.seen = make(map[domain.ID]struct{})
	c.acked = make(map[domain.ID]struct{})
	c.lastEventID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.counter.set(0)
	c.log.Info("notification channel state", zap.Stringer("from", from), zap.Stringer("to", Terminated))
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(Terminated)
	}
}

// MarkRead acknowledges a notification. The counter moves only after the
// server accepted the acknowledgement, and only once per id in a session:
// the server treats repeated acknowledgements as no-ops.
func (c *Channel) MarkRead(ctx context.Context, id domain.ID) error {
	if c.State() == Terminated {
		return ErrTerminated
	}
	if err := c.api.MarkRead(ctx, id); err != nil {
		c.log.Warn("mark read failed", zap.String("notification_id", id.String()), zap.Error(err))
		c.notice(Notice{Kind: NoticeAckFailed, NotificationID: id, Err: err})
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	c.mu.Lock()
	_, again := c.acked[id]
	c.acked[id] = struct{}{}
	c.mu.Unlock()
	if again {
		c.log.Debug("notification already acknowledged", zap.String("notification_id", id.String()))
		return nil
	}
	c.counter.decr()
	return nil
}

func (c *Channel) run(ctx context.Context, token string, done chan struct{}) {
	defer c.finish(done)

	b := c.backoff()
	for {
		opened, err := c.stream(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if opened {
			b = c.backoff()
		}
		if !c.transition(Disconnected) {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			c.log.Warn("notification stream unauthorized", zap.Error(err))
			c.notice(Notice{Kind: NoticeStreamLost, Err: err})
			return
		}

		wait, stop := b.Next()
		if stop {
			err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			c.log.Warn("notification stream lost", zap.Error(err))
			c.notice(Notice{Kind: NoticeStreamLost, Err: err})
			return
		}
		c.log.Info("notification stream dropped, reconnecting", zap.Duration("wait", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if !c.transition(Connecting) {
			return
		}
	}
}

// finish releases the run slot so Start can be called again.
func (c *Channel) finish(done chan struct{}) {
	c.transition(Disconnected)
	c.mu.Lock()
	if c.done == done {
		c.cancel()
		c.cancel, c.done = nil, nil
	}
	c.mu.Unlock()
	close(done)
}

func (c *Channel) backoff() retry.Backoff {
	b := retry.NewExponential(c.opts.ReconnectBase)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(c.opts.ReconnectMax, b)
	if c.opts.MaxAttempts > 0 {
		b = retry.WithMaxRetries(c.opts.MaxAttempts, b)
	}
	return b
}

// transition reports false once the channel is terminated.
func (c *Channel) transition(to State) bool {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return true
	}
	c.log.Info("notification channel state", zap.Stringer("from", from), zap.Stringer("to", to))
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(to)
	}
	return true
}

func (c *Channel) notice(n Notice) {
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(n)
	}
}
