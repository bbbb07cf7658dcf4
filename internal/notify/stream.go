package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

// stream holds one connection until it fails or ctx is done. opened
// reports whether the server accepted the stream, which resets the
// reconnect backoff.
func (c *Channel) stream(ctx context.Context, token string) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.StreamURL, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(httpserver.RequestIDHeader, uuid.NewString())
	if id := c.resumeID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	client := &sse.Client{
		HTTPClient: c.opts.HTTPClient,
		// Reconnects are driven by run so state transitions stay visible.
		Backoff: sse.Backoff{MaxRetries: -1},
		ResponseValidator: func(res *http.Response) error {
			if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
				return fmt.Errorf("%w: status %d", ErrUnauthorized, res.StatusCode)
			}
			if err := sse.DefaultValidator(res); err != nil {
				return err
			}
			opened = true
			c.opened(ctx)
			return nil
		},
	}
	conn := client.NewConnection(req)
	conn.SubscribeEvent(EventNotification, func(ev sse.Event) { c.receive(ctx, ev, true) })
	conn.SubscribeEvent(EventReplay, func(ev sse.Event) { c.receive(ctx, ev, false) })

	err = conn.Connect()
	return opened, err
}

// opened runs once per accepted stream, before any event is read. The
// server's unread count replaces the counter.
func (c *Channel) opened(ctx context.Context) {
	n, err := c.api.UnreadCount(ctx)
	if !c.transition(Connected) {
		return
	}
	if err != nil {
		c.log.Warn("unread count resync failed", zap.Error(err))
		return
	}
	c.counter.set(n)
	c.log.Debug("unread count resynced", zap.Int("count", n))
}

// receive forwards one notification. Replayed events are forwarded but not
// counted.
func (c *Channel) receive(ctx context.Context, ev sse.Event, count bool) {
	if ctx.Err() != nil {
		return
	}

	var n domain.Notification
	err := json.Unmarshal([]byte(ev.Data), &n)
	if err == nil && n.ID == "" {
		err = errors.New("notification without id")
	}

	c.mu.Lock()
	if ev.LastEventID != "" {
		c.lastEventID = ev.LastEventID
	}
	dup := false
	if err == nil {
		_, dup = c.seen[n.ID]
		c.seen[n.ID] = struct{}{}
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("malformed notification skipped", zap.String("event_id", ev.LastEventID), zap.Error(err))
		return
	}
	if dup {
		c.log.Debug("duplicate notification skipped", zap.String("notification_id", n.ID.String()))
		return
	}

	if count {
		c.counter.incr()
	}
	c.log.Debug("notification received", zap.String("notification_id", n.ID.String()), zap.String("type", n.Type), zap.Bool("replay", !count))
	if c.opts.OnNotification != nil {
		c.opts.OnNotification(n)
	}
}

func (c *Channel) resumeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}
