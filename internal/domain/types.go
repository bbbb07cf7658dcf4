package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// ID is an opaque identifier. The diary API emits numeric ids while the
// dev server emits uuids, so both JSON numbers and strings are accepted.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Author struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Entry is a diary post as held by the interaction store.
type Entry struct {
	ID        ID         `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	ImageURLs []string   `json:"imageUrls"`
	Author    Author     `json:"author"`
	LikeCount int        `json:"likeCount"`
	Liked     bool       `json:"liked"`
	Comments  []*Comment `json:"comments"`
}

// Comment is either a top-level comment (ParentID nil) or a reply.
// Replies is only populated on top-level comments.
type Comment struct {
	ID           ID         `json:"id"`
	AuthorName   string     `json:"authorName"`
	AuthorAvatar string     `json:"authorAvatar"`
	Text         string     `json:"text"`
	CreatedAt    time.Time  `json:"createdAt"`
	ParentID     *ID        `json:"parentCommentId,omitempty"`
	Replies      []*Comment `json:"replies,omitempty"`

	// Pending marks an optimistic node not yet confirmed by the server.
	Pending bool `json:"-"`
}

// IsReply reports whether c has a parent.
func (c *Comment) IsReply() bool { return c.ParentID != nil }

// Clone returns a deep copy of c including its replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentID != nil {
		pid := *c.ParentID
		out.ParentID = &pid
	}
	if c.Replies != nil {
		out.Replies = make([]*Comment, len(c.Replies))
		for i, r := range c.Replies {
			out.Replies[i] = r.Clone()
		}
	}
	return &out
}

// LikeState is the like flag and count of an entry. Both fields always
// change together.
type LikeState struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

// Toggled returns the state after flipping Liked. Count never drops below 0.
func (s LikeState) Toggled() LikeState {
	if s.Liked {
		n := s.Count - 1
		if n < 0 {
			n = 0
		}
		return LikeState{Liked: false, Count: n}
	}
	return LikeState{Liked: true, Count: s.Count + 1}
}

// Notification is the payload of a "notification" push event.
type Notification struct {
	ID          ID             `json:"id"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	CreatedAt   time.Time      `json:"createdAt"`
	MoveToWhere string         `json:"moveToWhere,omitempty"`
	Extra       map[string]any `json:"-"`
}

// NotificationItem is one row of the notification list: the notification
// and whether the user has read it. On the wire "read" sits next to the
// notification fields.
type NotificationItem struct {
	Notification
	Read bool
}

func (it NotificationItem) MarshalJSON() ([]byte, error) {
	n := it.Notification
	extra := make(map[string]any, len(n.Extra)+1)
	for k, v := range n.Extra {
		extra[k] = v
	}
	extra["read"] = it.Read
	n.Extra = extra
	return json.Marshal(n)
}

func (it *NotificationItem) UnmarshalJSON(b []byte) error {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	read, _ := n.Extra["read"].(bool)
	delete(n.Extra, "read")
	if len(n.Extra) == 0 {
		n.Extra = nil
	}
	*it = NotificationItem{Notification: n, Read: read}
	return nil
}

// CommentReceipt is what the comment and reply write services return.
type CommentReceipt struct {
	ID           ID        `json:"id"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	CreatedAt    time.Time `json:"createdAt"`
}

var notificationFields = []string{"id", "type", "message", "createdAt", "moveToWhere"}

// UnmarshalJSON keeps fields outside the known set in Extra.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type plain Notification
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range notificationFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	*n = Notification(p)
	return nil
}

// MarshalJSON writes Extra back next to the known fields.
func (n Notification) MarshalJSON() ([]byte, error) {
	type plain Notification
	b, err := json.Marshal(plain(n))
	if err != nil || len(n.Extra) == 0 {
		return b, err
	}
	out := make(map[string]any, len(n.Extra)+len(notificationFields))
	for k, v := range n.Extra {
		out[k] = v
	}
	var known map[string]any
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		out[k] = v
	}
	return json.Marshal(out)
}
