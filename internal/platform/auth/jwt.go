package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/example/diary-sync/internal/platform/api"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

type ctxKeyUserID struct{}
type ctxKeyRole struct{}
type ctxKeyName struct{}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID{}).(string)
	return v, ok
}

// WithUserID injects user_id into context. Useful for testing.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, uid)
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRole{}).(string)
	return v, ok
}

// NameFromContext returns the display name carried by the token, if any.
func NameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyName{}).(string)
	return v, ok
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

var (
	ErrNoCredential      = errors.New("bearer credential is empty")
	ErrCredentialExpired = errors.New("bearer credential expired")
	ErrNoSubject         = errors.New("bearer credential has no subject")
)

// Inspect decodes a bearer credential without checking its signature.
// Clients hold no secret; they use it to avoid opening a stream with a
// token the server is certain to reject.
func Inspect(tokenString string, now time.Time) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return nil, ErrNoCredential
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrNoSubject
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrCredentialExpired
	}
	return claims, nil
}

// RequireUser middleware validates Bearer token and injects user_id into context.
func RequireUser(verifier JWTVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := httpserver.RequestIDFromContext(r.Context())
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if authz == "" {
				api.Unauthorized(w, "UNAUTHORIZED", "bearer token required", rid)
				return
			}
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				api.Unauthorized(w, "UNAUTHORIZED", "bearer token required", rid)
				return
			}
			claims, err := verifier.Parse(strings.TrimSpace(parts[1]))
			if err != nil || strings.TrimSpace(claims.Subject) == "" {
				api.Unauthorized(w, "INVALID_TOKEN", "invalid or expired token", rid)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID{}, claims.Subject)
			if strings.TrimSpace(claims.Role) != "" {
				ctx = context.WithValue(ctx, ctxKeyRole{}, claims.Role)
			}
			if strings.TrimSpace(claims.Name) != "" {
				ctx = context.WithValue(ctx, ctxKeyName{}, claims.Name)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
