// Package broker fans notifications out to the streams open for a user.
package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
)

// Buffer is the per-subscriber queue length. A stream that falls this far
// behind misses events; the client recovers with its next resync.
const Buffer = 32

type Broker interface {
	Publish(ctx context.Context, userID string, n domain.Notification) error
	// Subscribe delivers the user's notifications until cancel is called.
	Subscribe(userID string) (events <-chan domain.Notification, cancel func(), err error)
}

// Memory is an in-process broker for a single server instance.
type Memory struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[string]map[int]chan domain.Notification
	next int
}

func NewMemory(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{log: log, subs: make(map[string]map[int]chan domain.Notification)}
}

func (m *Memory) Publish(_ context.Context, userID string, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[userID] {
		select {
		case ch <- n:
		default:
			m.log.Warn("subscriber lagging, notification dropped",
				zap.String("user_id", userID), zap.String("notification_id", n.ID.String()))
		}
	}
	return nil
}

func (m *Memory) Subscribe(userID string) (<-chan domain.Notification, func(), error) {
	ch := make(chan domain.Notification, Buffer)
	m.mu.Lock()
	id := m.next
	m.next++
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[int]chan domain.Notification)
	}
	m.subs[userID][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[userID], id)
			if len(m.subs[userID]) == 0 {
				delete(m.subs, userID)
			}
			m.mu.Unlock()
		})
	}
	return ch, cancel, nil
}
