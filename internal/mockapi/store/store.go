// Package store persists diary entries, likes, comments and notifications
// for the development API server.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/diary-sync/internal/domain"
)

var (
	ErrEntryNotFound        = errors.New("entry not found")
	ErrParentNotFound       = errors.New("parent comment not found")
	ErrReplyToReply         = errors.New("parent comment is a reply")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Comment is a comment row. Replies are not nested; the client builds the
// tree.
type Comment struct {
	ID        string
	EntryID   string
	ParentID  *string
	Author    domain.Author
	Text      string
	CreatedAt time.Time
}

// Wire returns the flat form served on GET /diaries/{id}.
func (c Comment) Wire() *domain.Comment {
	out := &domain.Comment{
		ID:           domain.ID(c.ID),
		AuthorName:   c.Author.Name,
		AuthorAvatar: c.Author.Avatar,
		Text:         c.Text,
		CreatedAt:    c.CreatedAt,
	}
	if c.ParentID != nil {
		pid := domain.ID(*c.ParentID)
		out.ParentID = &pid
	}
	return out
}

// Notification is a notification addressed to one user.
type Notification struct {
	domain.Notification
	UserID string
	ReadAt *time.Time
}

// DiaryStore defines the contract for diary persistence.
type DiaryStore interface {
	// PutEntry creates or replaces an entry's content. Likes and comments
	// are kept.
	PutEntry(ctx context.Context, e domain.Entry) error
	// GetEntry returns the entry with a flat comment list, oldest first.
	// Liked is computed for viewerID.
	GetEntry(ctx context.Context, entryID, viewerID string) (domain.Entry, error)
	// SetLike is idempotent: liking twice counts once.
	SetLike(ctx context.Context, entryID, userID string, liked bool) (domain.LikeState, error)
	// AddComment rejects replies to unknown comments and to replies.
	AddComment(ctx context.Context, c Comment) (Comment, error)
}

// NotificationStore defines the contract for notification persistence.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	// ListNotifications returns the user's notifications created after
	// the notification afterID, oldest first. An unknown or empty afterID
	// returns nothing.
	ListNotifications(ctx context.Context, userID, afterID string) ([]Notification, error)
	// RecentNotifications returns up to limit of the user's notifications,
	// newest first, read or not.
	RecentNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	// MarkRead is idempotent for notifications already read.
	MarkRead(ctx context.Context, userID, notificationID string) error
}

type Store interface {
	DiaryStore
	NotificationStore
}
