package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// Longer incoming ids are replaced rather than echoed into logs.
const maxRequestIDLen = 128

type ctxKeyRequestID struct{}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return v
}

// RequestIDMiddleware propagates the caller's id or assigns a uuid, and
// echoes it on the response.
func RequestIDMiddleware(headerName string) func(next http.Handler) http.Handler {
	if strings.TrimSpace(headerName) == "" {
		headerName = RequestIDHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get(headerName))
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = uuid.NewString()
			}
			w.Header().Set(headerName, rid)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
