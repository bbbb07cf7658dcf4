// Package commenttree turns the flat comment list served by the diary API
// into the two-level tree shown under an entry: top-level comments, each
// carrying its replies in server order.
package commenttree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/diary-sync/internal/domain"
)

// ErrOrphanReply is returned under OrphanError when a reply references a
// comment that is not a top-level comment of the list.
var ErrOrphanReply = errors.New("reply references unknown top-level comment")

// OrphanPolicy decides what happens to replies whose parent is missing.
type OrphanPolicy int

const (
	// OrphanDrop silently discards orphan replies.
	OrphanDrop OrphanPolicy = iota
	// OrphanPromote surfaces orphan replies as top-level comments.
	OrphanPromote
	// OrphanError fails the build.
	OrphanError
)

func (p OrphanPolicy) String() string {
	switch p {
	case OrphanPromote:
		return "promote"
	case OrphanError:
		return "error"
	default:
		return "drop"
	}
}

// ParseOrphanPolicy accepts "drop", "promote" or "error". Empty means drop.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return OrphanDrop, nil
	case "promote":
		return OrphanPromote, nil
	case "error":
		return OrphanError, nil
	}
	return OrphanDrop, fmt.Errorf("unknown orphan policy %q", s)
}

// Build partitions comments into top-level nodes and replies and attaches
// every reply to its parent. Input order is preserved within both levels.
// The input is not modified; returned nodes are copies.
//
// A reply whose parent is itself a reply is treated as an orphan, so the
// result never has more than two levels.
func Build(comments []*domain.Comment, policy OrphanPolicy) ([]*domain.Comment, error) {
	roots := make([]*domain.Comment, 0, len(comments))
	byID := make(map[domain.ID]*domain.Comment, len(comments))
	var replies []*domain.Comment

	for _, c := range comments {
		if c == nil {
			continue
		}
		node := &domain.Comment{
			ID:           c.ID,
			AuthorName:   c.AuthorName,
			AuthorAvatar: c.AuthorAvatar,
			Text:         c.Text,
			CreatedAt:    c.CreatedAt,
			Pending:      c.Pending,
		}
		if c.ParentID == nil {
			node.Replies = []*domain.Comment{}
			roots = append(roots, node)
			if _, dup := byID[node.ID]; !dup {
				byID[node.ID] = node
			}
			continue
		}
		pid := *c.ParentID
		node.ParentID = &pid
		replies = append(replies, node)
	}

	for _, r := range replies {
		parent, ok := byID[*r.ParentID]
		if ok {
			parent.Replies = append(parent.Replies, r)
			continue
		}
		switch policy {
		case OrphanPromote:
			r.ParentID = nil
			r.Replies = []*domain.Comment{}
			roots = append(roots, r)
		case OrphanError:
			return nil, fmt.Errorf("comment %s -> %s: %w", r.ID, *r.ParentID, ErrOrphanReply)
		}
	}
	return roots, nil
}

// Flatten is the inverse of Build: top-level comments in order, then all
// replies in tree order. Building the result again yields an equivalent tree.
func Flatten(tree []*domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, 0, len(tree))
	var replies []*domain.Comment
	for _, c := range tree {
		cp := c.Clone()
		cp.Replies = nil
		out = append(out, cp)
		for _, r := range c.Replies {
			rc := r.Clone()
			rc.Replies = nil
			replies = append(replies, rc)
		}
	}
	return append(out, replies...)
}

// Count returns the number of top-level comments and replies in tree.
func Count(tree []*domain.Comment) (top, replies int) {
	for _, c := range tree {
		top++
		replies += len(c.Replies)
	}
	return top, replies
}
