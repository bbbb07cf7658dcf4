package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
)

// SubjectPrefix is followed by the user id.
const SubjectPrefix = "diary.notifications."

// NATS fans out through core NATS subjects so several server instances can
// share one notification feed.
type NATS struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewNATS(nc *nats.Conn, log *zap.Logger) *NATS {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATS{nc: nc, log: log}
}

// Subject maps a user id to its NATS subject. Characters with a meaning in
// subjects are replaced.
func Subject(userID string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")
	return SubjectPrefix + r.Replace(userID)
}

func (b *NATS) Publish(_ context.Context, userID string, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := b.nc.Publish(Subject(userID), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATS) Subscribe(userID string) (<-chan domain.Notification, func(), error) {
	ch := make(chan domain.Notification, Buffer)
	var mu sync.Mutex
	closed := false

	sub, err := b.nc.Subscribe(Subject(userID), func(m *nats.Msg) {
		var n domain.Notification
		if err := json.Unmarshal(m.Data, &n); err != nil {
			b.log.Warn("invalid notification message", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- n:
		default:
			b.log.Warn("subscriber lagging, notification dropped",
				zap.String("user_id", userID), zap.String("notification_id", n.ID.String()))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe: %w", err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				b.log.Warn("nats unsubscribe", zap.Error(err))
			}
			mu.Lock()
			closed = true
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}
