package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/example/diary-sync/internal/platform/api"
)

func serve(r chi.Router, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r)

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id on the response")
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name  string
		ready func() error
		want  int
	}{
		{"no check", nil, http.StatusOK},
		{"ready", func() error { return nil }, http.StatusOK},
		{"postgres down", func() error { return errors.New("db down") }, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			SetupRouter(r, RouterConfig{ReadyFunc: tc.ready})

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			rr := serve(r, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusOK {
				return
			}
			var body api.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if body.Error.Code != "NOT_READY" || body.Error.RequestID != "req-1" {
				t.Fatalf("unexpected envelope: %+v", body.Error)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r)
	r.Post("/diary/like", func(http.ResponseWriter, *http.Request) { panic("nil entry") })

	rr := serve(r, httptest.NewRequest(http.MethodPost, "/diary/like", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on panic, got %d", rr.Code)
	}
}

func TestCORS_StreamPreflight(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://diary.example")
	r := chi.NewRouter()
	SetupRouter(r)
	r.Get("/notifications/stream", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/notifications/stream", nil)
	req.Header.Set("Origin", "https://diary.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Last-Event-ID")
	rr := serve(r, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://diary.example" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
	allowed := strings.ToLower(rr.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowed, "last-event-id") {
		t.Fatalf("expected Last-Event-ID to be allowed, got %q", allowed)
	}
}

func TestCORS_RejectsOtherOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://diary.example")
	r := chi.NewRouter()
	SetupRouter(r)
	r.Get("/diaries/1", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/diaries/1", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rr := serve(r, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header, got %q", got)
	}
}

func TestParseCORSOrigins(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "*"},
		{" , ", "*"},
		{"https://diary.example", "https://diary.example"},
		{"https://diary.example , https://www.diary.example", "https://diary.example|https://www.diary.example"},
	}
	for _, tc := range cases {
		if got := strings.Join(parseCORSOrigins(tc.raw), "|"); got != tc.want {
			t.Fatalf("parseCORSOrigins(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, " client-7 ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "client-7" || rr.Header().Get(RequestIDHeader) != "client-7" {
		t.Fatalf("expected propagated id, got ctx=%q header=%q", seen, rr.Header().Get(RequestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 36 {
		t.Fatalf("expected a fresh uuid for an oversized id, got %q", seen)
	}
}
