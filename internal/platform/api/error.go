package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response:
// {"error":{"code","message","details","request_id"}}.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

// DecodeError reads the error envelope from a failed response body. ok is
// false when the body is not an envelope.
func DecodeError(body []byte) (e APIError, ok bool) {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == "" {
		return APIError{}, false
	}
	return resp.Error, true
}

// Status helpers. Code is a stable machine-readable string such as
// "NOT_FOUND"; message is for humans.
func BadRequest(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, requestID, details)
}

func Unauthorized(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusUnauthorized, code, message, requestID, nil)
}

func Forbidden(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusForbidden, code, message, requestID, nil)
}

func NotFound(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusNotFound, code, message, requestID, nil)
}

// Unprocessable reports a well-formed request the domain rules reject.
func Unprocessable(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusUnprocessableEntity, code, message, requestID, nil)
}

func RateLimited(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusTooManyRequests, code, message, requestID, details)
}

func Internal(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error", requestID, nil)
}
