package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFound(rr, "ENTRY_NOT_FOUND", "entry not found", "rid-1")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "ENTRY_NOT_FOUND" || resp.Error.RequestID != "rid-1" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestDecodeError(t *testing.T) {
	rr := httptest.NewRecorder()
	BadRequest(rr, "EMPTY_TEXT", "text is required", "rid-2", map[string]any{"field": "text"})

	e, ok := DecodeError(rr.Body.Bytes())
	if !ok {
		t.Fatal("expected envelope to decode")
	}
	if e.Code != "EMPTY_TEXT" || e.Message != "text is required" || e.Details["field"] != "text" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestDecodeError_NotAnEnvelope(t *testing.T) {
	for _, body := range []string{"", "oops", `{"message":"x"}`} {
		if _, ok := DecodeError([]byte(body)); ok {
			t.Fatalf("expected %q not to decode", body)
		}
	}
}
