package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/mockapi/store"
	"github.com/example/diary-sync/internal/platform/api"
	"github.com/example/diary-sync/internal/platform/auth"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

const maxBody = 1 << 20

type likeRequest struct {
	EntryID domain.ID `json:"entryId"`
	Liked   bool      `json:"liked"`
}

type commentRequest struct {
	EntryID         domain.ID  `json:"entryId"`
	ParentCommentID *domain.ID `json:"parentCommentId,omitempty"`
	Text            string     `json:"text"`
}

// caller returns the authenticated user as a comment author.
func caller(r *http.Request) (domain.Author, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(uid) == "" {
		return domain.Author{}, false
	}
	name, _ := auth.NameFromContext(r.Context())
	if strings.TrimSpace(name) == "" {
		name = uid
	}
	return domain.Author{ID: domain.ID(uid), Name: name}, true
}

// GetEntry handles GET /diaries/{id}
func GetEntry(ds store.DiaryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		entryID := strings.TrimSpace(chi.URLParam(r, "id"))
		if entryID == "" {
			api.BadRequest(w, "MISSING_ID", "id is required", rid, nil)
			return
		}
		viewer, _ := auth.UserIDFromContext(r.Context())

		e, err := ds.GetEntry(r.Context(), entryID, viewer)
		if errors.Is(err, store.ErrEntryNotFound) {
			api.NotFound(w, "NOT_FOUND", "diary entry not found", rid)
			return
		}
		if err != nil {
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, e)
	}
}

// PostLike handles POST /diary/like
func PostLike(ds store.DiaryStore, n *Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		user, ok := caller(r)
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}

		var req likeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		if strings.TrimSpace(req.EntryID.String()) == "" {
			api.BadRequest(w, "MISSING_ID", "entryId is required", rid, nil)
			return
		}

		st, err := ds.SetLike(r.Context(), req.EntryID.String(), user.ID.String(), req.Liked)
		if errors.Is(err, store.ErrEntryNotFound) {
			api.NotFound(w, "NOT_FOUND", "diary entry not found", rid)
			return
		}
		if err != nil {
			api.Internal(w, rid)
			return
		}
		if req.Liked {
			n.notifyAuthor(r.Context(), ds, req.EntryID, user, "LIKE", user.Name+" liked your diary")
		}
		api.WriteJSON(w, http.StatusOK, st)
	}
}

// PostComment handles POST /diary/comment
func PostComment(ds store.DiaryStore, n *Notifier) http.HandlerFunc {
	return addComment(ds, n, false)
}

// PostReply handles POST /diary/reply
func PostReply(ds store.DiaryStore, n *Notifier) http.HandlerFunc {
	return addComment(ds, n, true)
}

func addComment(ds store.DiaryStore, n *Notifier, reply bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		user, ok := caller(r)
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}

		var req commentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		if strings.TrimSpace(req.EntryID.String()) == "" {
			api.BadRequest(w, "MISSING_ID", "entryId is required", rid, nil)
			return
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			api.BadRequest(w, "EMPTY_TEXT", "text must not be empty", rid, nil)
			return
		}

		c := store.Comment{EntryID: req.EntryID.String(), Author: user, Text: text}
		if reply {
			if req.ParentCommentID == nil || strings.TrimSpace(req.ParentCommentID.String()) == "" {
				api.BadRequest(w, "MISSING_PARENT", "parentCommentId is required", rid, nil)
				return
			}
			pid := req.ParentCommentID.String()
			c.ParentID = &pid
		}

		created, err := ds.AddComment(r.Context(), c)
		switch {
		case errors.Is(err, store.ErrEntryNotFound):
			api.NotFound(w, "NOT_FOUND", "diary entry not found", rid)
			return
		case errors.Is(err, store.ErrParentNotFound):
			api.NotFound(w, "PARENT_NOT_FOUND", "parent comment not found", rid)
			return
		case errors.Is(err, store.ErrReplyToReply):
			api.Unprocessable(w, "REPLY_TO_REPLY", "replies cannot be replied to", rid)
			return
		case err != nil:
			api.Internal(w, rid)
			return
		}

		kind, msg := "COMMENT", user.Name+" commented on your diary"
		if reply {
			kind, msg = "REPLY", user.Name+" replied in your diary"
		}
		n.notifyAuthor(r.Context(), ds, req.EntryID, user, kind, msg)

		api.WriteJSON(w, http.StatusCreated, domain.CommentReceipt{
			ID:           domain.ID(created.ID),
			AuthorName:   created.Author.Name,
			AuthorAvatar: created.Author.Avatar,
			CreatedAt:    created.CreatedAt,
		})
	}
}

func logRequest(log *zap.Logger, r *http.Request) *zap.Logger {
	return log.With(
		zap.String("request_id", httpserver.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path))
}
