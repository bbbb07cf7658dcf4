package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/diary-sync/internal/domain"
)

// InMemoryStore is a development-only in-memory implementation.
type InMemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]domain.Entry        // id -> entry without comments
	likes         map[string]map[string]struct{} // entryID -> userID set
	comments      []Comment                      // creation order
	notifications []Notification                 // creation order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]domain.Entry),
		likes:   make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) PutEntry(_ context.Context, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Comments = nil
	e.Liked = false
	e.LikeCount = 0
	e.ImageURLs = append([]string(nil), e.ImageURLs...)
	s.entries[e.ID.String()] = e
	return nil
}

func (s *InMemoryStore) GetEntry(_ context.Context, entryID, viewerID string) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return domain.Entry{}, ErrEntryNotFound
	}
	e.ImageURLs = append([]string(nil), e.ImageURLs...)
	likes := s.likes[entryID]
	e.LikeCount = len(likes)
	_, e.Liked = likes[viewerID]

	var rows []Comment
	for _, c := range s.comments {
		if c.EntryID == entryID {
			rows = append(rows, c)
		}
	}
	e.Comments = make([]*domain.Comment, len(rows))
	for i, c := range rows {
		e.Comments[i] = c.Wire()
	}
	return e, nil
}

func (s *InMemoryStore) SetLike(_ context.Context, entryID, userID string, liked bool) (domain.LikeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entryID]; !ok {
		return domain.LikeState{}, ErrEntryNotFound
	}
	set := s.likes[entryID]
	if set == nil {
		set = make(map[string]struct{})
		s.likes[entryID] = set
	}
	if liked {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
	return domain.LikeState{Liked: liked, Count: len(set)}, nil
}

func (s *InMemoryStore) AddComment(_ context.Context, c Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[c.EntryID]; !ok {
		return Comment{}, ErrEntryNotFound
	}
	if c.ParentID != nil {
		parent, ok := s.comment(*c.ParentID)
		if !ok || parent.EntryID != c.EntryID {
			return Comment{}, ErrParentNotFound
		}
		if parent.ParentID != nil {
			return Comment{}, ErrReplyToReply
		}
	}
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	s.comments = append(s.comments, c)
	return c, nil
}

func (s *InMemoryStore) comment(id string) (Comment, bool) {
	for _, c := range s.comments {
		if c.ID == id {
			return c, true
		}
	}
	return Comment{}, false
}

func (s *InMemoryStore) CreateNotification(_ context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = domain.ID(uuid.New().String())
	n.CreatedAt = time.Now().UTC()
	n.ReadAt = nil
	s.notifications = append(s.notifications, n)
	return n, nil
}

func (s *InMemoryStore) ListNotifications(_ context.Context, userID, afterID string) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterID == "" {
		return []Notification{}, nil
	}
	start := -1
	for i, n := range s.notifications {
		if n.ID.String() == afterID && n.UserID == userID {
			start = i + 1
			break
		}
	}
	out := []Notification{}
	if start < 0 {
		return out, nil
	}
	for _, n := range s.notifications[start:] {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecentNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Notification{}
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := s.notifications[i]; n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID.String() != notificationID || n.UserID != userID {
			continue
		}
		if n.ReadAt == nil {
			now := time.Now().UTC()
			s.notifications[i].ReadAt = &now
		}
		return nil
	}
	return ErrNotificationNotFound
}
