package httpserver

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/diary-sync/internal/platform/api"
)

// RouterConfig holds optional hooks for the common endpoints.
type RouterConfig struct {
	// ReadyFunc backs /readyz. A nil func always reports ready.
	ReadyFunc func() error
}

// SetupRouter attaches base middlewares and common endpoints.
// IMPORTANT: must be called before registering any routes.
func SetupRouter(r chi.Router, cfg ...RouterConfig) {
	var rc RouterConfig
	if len(cfg) > 0 {
		rc = cfg[0]
	}

	// Correlation / request id
	r.Use(RequestIDMiddleware(RequestIDHeader))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader, "Last-Event-ID"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rc.ReadyFunc != nil {
			if err := rc.ReadyFunc(); err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), RequestIDFromContext(r.Context()), nil)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

// parseCORSOrigins splits a comma separated origin list. Empty means any.
func parseCORSOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
