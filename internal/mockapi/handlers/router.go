// Package handlers serves the diary and notification API used by the sync
// client during local development.
package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/mockapi/broker"
	"github.com/example/diary-sync/internal/mockapi/store"
	"github.com/example/diary-sync/internal/platform/auth"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

type Deps struct {
	Store    store.Store
	Broker   broker.Broker
	Verifier auth.JWTVerifier
	Log      *zap.Logger

	// Limiter guards the write routes. Nil disables limiting.
	Limiter   *RateLimiter
	Ready     func() error
	Keepalive time.Duration
}

// NewRouter wires every route behind bearer authentication.
func NewRouter(d Deps) chi.Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	notifier := &Notifier{Store: d.Store, Broker: d.Broker, Log: d.Log}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: d.Ready})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))

		r.Get("/diaries/{id}", GetEntry(d.Store))
		r.Get("/notifications", ListNotifications(d.Store))
		r.Get("/notifications/stream", Stream(d.Store, d.Broker, d.Log, d.Keepalive))
		r.Get("/notifications/unread/count", UnreadCount(d.Store))
		r.Post("/notifications/{id}/read", MarkRead(d.Store))
		r.With(auth.RequireAdmin).Post("/notifications", CreateNotification(notifier))

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Post("/diary/like", PostLike(d.Store, notifier))
			r.Post("/diary/comment", PostComment(d.Store, notifier))
			r.Post("/diary/reply", PostReply(d.Store, notifier))
		})
	})
	return r
}
