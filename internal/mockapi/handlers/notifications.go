package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/mockapi/broker"
	"github.com/example/diary-sync/internal/mockapi/store"
	"github.com/example/diary-sync/internal/notify"
	"github.com/example/diary-sync/internal/platform/api"
	"github.com/example/diary-sync/internal/platform/auth"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

// DefaultKeepalive is how often an idle stream gets a comment line so
// proxies keep it open.
const DefaultKeepalive = 25 * time.Second

type unreadResponse struct {
	Count int `json:"count"`
}

// Stream handles GET /notifications/stream. Notifications created after the
// client's Last-Event-ID are replayed before live events. Replays use the
// replay event type because the client's unread count resync already
// includes them.
func Stream(ns store.NotificationStore, b broker.Broker, log *zap.Logger, keepalive time.Duration) http.HandlerFunc {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		l := logRequest(log, r).With(zap.String("user_id", userID))

		// Subscribe before replaying so nothing created in between is lost.
		events, cancel, err := b.Subscribe(userID)
		if err != nil {
			l.Error("subscribe", zap.Error(err))
			api.Internal(w, rid)
			return
		}
		defer cancel()

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			l.Error("sse upgrade", zap.Error(err))
			api.Internal(w, rid)
			return
		}
		if err := sess.Flush(); err != nil {
			return
		}
		l.Info("stream opened", zap.String("last_event_id", sess.LastEventID.String()))
		defer l.Info("stream closed")

		replayed := make(map[domain.ID]struct{})
		if sess.LastEventID.IsSet() {
			backlog, err := ns.ListNotifications(r.Context(), userID, sess.LastEventID.String())
			if err != nil {
				l.Warn("replay notifications", zap.Error(err))
			}
			for _, n := range backlog {
				if err := send(sess, notify.EventReplay, n.Notification); err != nil {
					return
				}
				replayed[n.ID] = struct{}{}
			}
		}

		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case n := <-events:
				if _, dup := replayed[n.ID]; dup {
					delete(replayed, n.ID)
					continue
				}
				if err := send(sess, notify.EventNotification, n); err != nil {
					l.Debug("stream write", zap.Error(err))
					return
				}
			case <-ticker.C:
				msg := &sse.Message{}
				msg.AppendComment("keepalive")
				if err := sess.Send(msg); err != nil {
					return
				}
				if err := sess.Flush(); err != nil {
					return
				}
			}
		}
	}
}

func send(sess *sse.Session, event string, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := &sse.Message{ID: sse.ID(n.ID.String()), Type: sse.Type(event)}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListNotifications handles GET /notifications?limit=N: the newest
// notifications with their read flag.
func ListNotifications(ns store.NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		limit := defaultListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				api.BadRequest(w, "INVALID_LIMIT", "limit must be a positive integer", rid, nil)
				return
			}
			limit = min(n, maxListLimit)
		}
		list, err := ns.RecentNotifications(r.Context(), userID, limit)
		if err != nil {
			api.Internal(w, rid)
			return
		}
		items := make([]domain.NotificationItem, 0, len(list))
		for _, n := range list {
			items = append(items, domain.NotificationItem{Notification: n.Notification, Read: n.ReadAt != nil})
		}
		api.WriteJSON(w, http.StatusOK, items)
	}
}

// UnreadCount handles GET /notifications/unread/count
func UnreadCount(ns store.NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		n, err := ns.UnreadCount(r.Context(), userID)
		if err != nil {
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, unreadResponse{Count: n})
	}
}

// MarkRead handles POST /notifications/{id}/read
func MarkRead(ns store.NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			api.BadRequest(w, "MISSING_ID", "id is required", rid, nil)
			return
		}
		err := ns.MarkRead(r.Context(), userID, id)
		if errors.Is(err, store.ErrNotificationNotFound) {
			api.NotFound(w, "NOT_FOUND", "notification not found", rid)
			return
		}
		if err != nil {
			api.Internal(w, rid)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateNotification handles POST /notifications. It lets a local tester
// push a notification to any user.
func CreateNotification(n *Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		var target struct {
			UserID string `json:"userId"`
		}
		var in domain.Notification
		if err := json.Unmarshal(body, &target); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		if err := json.Unmarshal(body, &in); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		delete(in.Extra, "userId")
		if len(in.Extra) == 0 {
			in.Extra = nil
		}
		if strings.TrimSpace(target.UserID) == "" {
			api.BadRequest(w, "MISSING_USER", "userId is required", rid, nil)
			return
		}
		if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Message) == "" {
			api.BadRequest(w, "INVALID_NOTIFICATION", "type and message are required", rid, nil)
			return
		}

		saved, err := n.Emit(r.Context(), strings.TrimSpace(target.UserID), in)
		if err != nil {
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusCreated, saved.Notification)
	}
}
