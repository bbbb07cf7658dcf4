package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/mockapi/broker"
	"github.com/example/diary-sync/internal/mockapi/store"
)

// Notifier persists a notification and pushes it to the user's open streams.
type Notifier struct {
	Store  store.NotificationStore
	Broker broker.Broker
	Log    *zap.Logger
}

// Emit stores n for userID and publishes it. A publish failure is logged
// only: the notification is already counted as unread and clients pick it
// up on their next resync.
func (n *Notifier) Emit(ctx context.Context, userID string, in domain.Notification) (store.Notification, error) {
	saved, err := n.Store.CreateNotification(ctx, store.Notification{Notification: in, UserID: userID})
	if err != nil {
		return store.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	if err := n.Broker.Publish(ctx, userID, saved.Notification); err != nil {
		n.logger().Warn("publish notification",
			zap.String("user_id", userID),
			zap.String("notification_id", saved.ID.String()),
			zap.Error(err))
	}
	return saved, nil
}

// notifyAuthor tells the entry's author about an interaction by someone
// else. Failures are logged; the interaction itself already succeeded.
func (n *Notifier) notifyAuthor(ctx context.Context, ds store.DiaryStore, entryID domain.ID, actor domain.Author, kind, message string) {
	if n == nil {
		return
	}
	e, err := ds.GetEntry(ctx, entryID.String(), "")
	if err != nil {
		n.logger().Warn("load entry for notification", zap.String("entry_id", entryID.String()), zap.Error(err))
		return
	}
	if e.Author.ID == "" || e.Author.ID == actor.ID {
		return
	}
	_, err = n.Emit(ctx, e.Author.ID.String(), domain.Notification{
		Type:        kind,
		Message:     message,
		MoveToWhere: "/diary/" + entryID.String(),
		Extra:       map[string]any{"entryId": entryID.String(), "actorId": actor.ID.String()},
	})
	if err != nil {
		n.logger().Warn("notify author", zap.String("entry_id", entryID.String()), zap.Error(err))
	}
}

func (n *Notifier) logger() *zap.Logger {
	if n.Log == nil {
		return zap.NewNop()
	}
	return n.Log
}
