// Package diaryclient talks to the diary and notification services over
// HTTP. A Client serves both the interaction store and the notification
// channel.
package diaryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/platform/api"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("diary api: status %d", e.Status)
	}
	return fmt.Sprintf("diary api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Log     *zap.Logger
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("diary api base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("diary api base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     cfg.Log,
	}, nil
}

// StreamURL is the notification stream endpoint. The stream needs its own
// http.Client without a timeout.
func (c *Client) StreamURL() string { return c.baseURL + "/notifications/stream" }

func (c *Client) Token() string { return c.token }

func (c *Client) GetEntry(ctx context.Context, entryID domain.ID) (domain.Entry, error) {
	var e domain.Entry
	if err := c.do(ctx, http.MethodGet, "/diaries/"+url.PathEscape(entryID.String()), nil, &e); err != nil {
		return domain.Entry{}, err
	}
	return e, nil
}

type likeRequest struct {
	EntryID domain.ID `json:"entryId"`
	Liked   bool      `json:"liked"`
}

func (c *Client) PostLike(ctx context.Context, entryID domain.ID, liked bool) error {
	return c.do(ctx, http.MethodPost, "/diary/like", likeRequest{EntryID: entryID, Liked: liked}, nil)
}

type commentRequest struct {
	EntryID         domain.ID  `json:"entryId"`
	ParentCommentID *domain.ID `json:"parentCommentId,omitempty"`
	Text            string     `json:"text"`
}

func (c *Client) PostComment(ctx context.Context, entryID domain.ID, text string) (domain.CommentReceipt, error) {
	var r domain.CommentReceipt
	err := c.do(ctx, http.MethodPost, "/diary/comment", commentRequest{EntryID: entryID, Text: text}, &r)
	return r, err
}

func (c *Client) PostReply(ctx context.Context, entryID, parentID domain.ID, text string) (domain.CommentReceipt, error) {
	var r domain.CommentReceipt
	err := c.do(ctx, http.MethodPost, "/diary/reply", commentRequest{EntryID: entryID, ParentCommentID: &parentID, Text: text}, &r)
	return r, err
}

// UnreadCount accepts {"count": n} as well as a bare integer.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/notifications/unread/count", nil, &raw); err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var wrapped struct {
		Count *int `json:"count"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Count == nil {
		return 0, fmt.Errorf("unread count: unexpected body %s", raw)
	}
	return *wrapped.Count, nil
}

// ListNotifications returns the newest notifications with their read flag.
// A non-positive limit leaves the page size to the server.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]domain.NotificationItem, error) {
	path := "/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var items []domain.NotificationItem
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) MarkRead(ctx context.Context, id domain.ID) error {
	return c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id.String())+"/read", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	rid := uuid.NewString()
	req.Header.Set(httpserver.RequestIDHeader, rid)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.log.Debug("diary api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
		zap.String("request_id", rid))

	if resp.StatusCode >= 300 {
		e := &APIError{Status: resp.StatusCode, RequestID: rid}
		if env, ok := api.DecodeError(data); ok {
			e.Code, e.Message = env.Code, env.Message
			if env.RequestID != "" {
				e.RequestID = env.RequestID
			}
		}
		return e
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
