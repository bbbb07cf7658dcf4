package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/example/diary-sync/internal/platform/api"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func makeToken(subject, role string, exp time.Time) string {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := tok.SignedString(testSecret)
	return signed
}

func newVerifier() JWTVerifier { return JWTVerifier{Secret: testSecret} }

// withRole injects role into context using the unexported key (same package).
func withRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKeyRole{}, role)
}

// ─── JWTVerifier tests ──────────────────────────────────────────────────────

func TestJWTVerifier_ValidToken(t *testing.T) {
	tok := makeToken("reader-1", "user", time.Now().Add(time.Hour))
	claims, err := newVerifier().Parse(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "reader-1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	valid := makeToken("reader-1", "admin", time.Now().Add(time.Hour))
	parts := strings.Split(valid, ".")

	cases := []struct {
		name     string
		verifier JWTVerifier
		token    string
	}{
		{"expired", newVerifier(), makeToken("reader-1", "user", time.Now().Add(-time.Hour))},
		{"wrong secret", JWTVerifier{Secret: []byte("another-secret")}, valid},
		{"malformed", newVerifier(), "not.a.valid.token"},
		{"tampered payload", newVerifier(), parts[0] + ".dGFtcGVyZWQ." + parts[2]},
		{"unsigned", newVerifier(), unsignedToken(t)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.verifier.Parse(tc.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func unsignedToken(t *testing.T) string {
	t.Helper()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "reader-1"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// ─── RequireUser middleware tests ────────────────────────────────────────────

func callRequireUser(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	RequireUser(newVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromContext(r.Context())
		role, _ := RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(uid + "/" + role))
	})).ServeHTTP(rr, req)
	return rr
}

func TestRequireUser_ValidBearer(t *testing.T) {
	tok := makeToken("reader-42", "admin", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr := callRequireUser(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "reader-42/admin" {
		t.Fatalf("expected subject and role in context, got %q", rr.Body.String())
	}
}

func TestRequireUser_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "UNAUTHORIZED"},
		{"empty bearer", "Bearer   ", "UNAUTHORIZED"},
		{"invalid token", "Bearer invalid.token.here", "INVALID_TOKEN"},
		{"expired", "Bearer " + makeToken("reader-1", "user", time.Now().Add(-time.Hour)), "INVALID_TOKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := callRequireUser(req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			e, ok := api.DecodeError(rr.Body.Bytes())
			if !ok || e.Code != tc.code {
				t.Fatalf("expected %s envelope, got %q", tc.code, rr.Body.String())
			}
		})
	}
}

// ─── Role middleware tests ──────────────────────────────────────────────────

func callWithRole(mw func(http.Handler) http.Handler, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notifications", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr
}

func TestRequireAdmin(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{"admin", http.StatusOK},
		{"ADMIN", http.StatusOK},
		{"user", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		ctx := context.Background()
		if tc.role != "" {
			ctx = withRole(ctx, tc.role)
		}
		if rr := callWithRole(RequireAdmin, ctx); rr.Code != tc.want {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.want, rr.Code)
		}
	}
}

func TestRequireRole_Custom(t *testing.T) {
	mw := RequireRole("moderator")
	if rr := callWithRole(mw, withRole(context.Background(), " Moderator ")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for moderator, got %d", rr.Code)
	}
	rr := callWithRole(mw, withRole(context.Background(), RoleAdmin))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admin is not moderator, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "moderator role required") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if rr := callWithRole(RequireRole(" "), withRole(context.Background(), "")); rr.Code != http.StatusForbidden {
		t.Fatalf("an empty role must never match, got %d", rr.Code)
	}
}

// ─── Inspect tests ───────────────────────────────────────────────────────────

func TestInspect_ValidWithoutSecret(t *testing.T) {
	tok := makeToken("user-7", "user", time.Now().Add(time.Hour))
	claims, err := Inspect("Bearer "+tok, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("expected subject 'user-7', got %q", claims.Subject)
	}
}

func TestInspect_Rejects(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "  ", ErrNoCredential},
		{"bearer only", "Bearer ", ErrNoCredential},
		{"expired", makeToken("user-7", "user", now.Add(-time.Minute)), ErrCredentialExpired},
		{"no subject", makeToken("", "user", now.Add(time.Hour)), ErrNoSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Inspect(tc.token, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInspect_Malformed(t *testing.T) {
	if _, err := Inspect("garbage", time.Now()); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestRequireUser_InjectsName(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-5",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name: "Mina",
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	var name string
	rr := httptest.NewRecorder()
	RequireUser(newVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ = NameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if name != "Mina" {
		t.Fatalf("expected name 'Mina', got %q", name)
	}
}
