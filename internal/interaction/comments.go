package interaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
)

const tempIDPrefix = "tmp-"

func newTempID() domain.ID { return domain.ID(tempIDPrefix + uuid.NewString()) }

// IsTempID reports whether id was generated locally for an unconfirmed comment.
func IsTempID(id domain.ID) bool { return strings.HasPrefix(string(id), tempIDPrefix) }

// AppendComment adds a top-level comment optimistically and submits it.
// The optimistic node is visible to readers while the request is in
// flight. On success the node keeps its place and takes the server id,
// timestamp and author fields; on failure it is removed.
func (s *Store) AppendComment(ctx context.Context, entryID domain.ID, text string) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, ErrEmptyText
	}

	node := s.optimisticNode(text, nil)
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return domain.Comment{}, ErrEntryNotFound
	}
	st.entry.Comments = append(st.entry.Comments, node)
	s.mu.Unlock()
	s.changed(entryID)

	receipt, err := s.svc.PostComment(ctx, entryID, text)
	if err != nil {
		s.discard(entryID, nil, node.ID)
		s.log.Warn("comment submit failed", zap.String("entry_id", entryID.String()), zap.Error(err))
		s.notice(Notice{Kind: NoticeCommentFailed, EntryID: entryID, Err: err})
		return domain.Comment{}, fmt.Errorf("post comment: %w", err)
	}
	return s.confirm(entryID, nil, node.ID, receipt), nil
}

// AppendReply is AppendComment for the reply list of a top-level comment.
// Replying to a reply is rejected so the tree keeps two levels.
func (s *Store) AppendReply(ctx context.Context, entryID, parentID domain.ID, text string) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, ErrEmptyText
	}

	node := s.optimisticNode(text, &parentID)
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return domain.Comment{}, ErrEntryNotFound
	}
	parent, err := findParent(st.entry.Comments, parentID)
	if err != nil {
		s.mu.Unlock()
		return domain.Comment{}, err
	}
	parent.Replies = append(parent.Replies, node)
	s.mu.Unlock()
	s.changed(entryID)

	receipt, err := s.svc.PostReply(ctx, entryID, parentID, text)
	if err != nil {
		s.discard(entryID, &parentID, node.ID)
		s.log.Warn("reply submit failed", zap.String("entry_id", entryID.String()),
			zap.String("parent_id", parentID.String()), zap.Error(err))
		s.notice(Notice{Kind: NoticeReplyFailed, EntryID: entryID, Err: err})
		return domain.Comment{}, fmt.Errorf("post reply: %w", err)
	}
	return s.confirm(entryID, &parentID, node.ID, receipt), nil
}

func (s *Store) optimisticNode(text string, parentID *domain.ID) *domain.Comment {
	c := &domain.Comment{
		ID:           newTempID(),
		AuthorName:   s.opts.Viewer.Name,
		AuthorAvatar: s.opts.Viewer.Avatar,
		Text:         text,
		CreatedAt:    s.opts.Now().UTC(),
		Pending:      true,
	}
	if parentID != nil {
		pid := *parentID
		c.ParentID = &pid
	} else {
		c.Replies = []*domain.Comment{}
	}
	return c
}

// findParent resolves a reply target. It must be a confirmed top-level comment.
func findParent(tree []*domain.Comment, parentID domain.ID) (*domain.Comment, error) {
	for _, c := range tree {
		if c.ID == parentID {
			if c.Pending {
				return nil, ErrParentNotConfirmed
			}
			return c, nil
		}
	}
	for _, c := range tree {
		for _, r := range c.Replies {
			if r.ID == parentID {
				return nil, ErrReplyToReply
			}
		}
	}
	return nil, ErrParentNotFound
}

// locate finds a node by id, in the top level or in the replies of parentID.
func locate(tree []*domain.Comment, parentID *domain.ID, id domain.ID) (list *[]*domain.Comment, idx int) {
	list = &tree
	if parentID != nil {
		list = nil
		for _, c := range tree {
			if c.ID == *parentID {
				list = &c.Replies
				break
			}
		}
		if list == nil {
			return nil, -1
		}
	}
	for i, c := range *list {
		if c.ID == id {
			return list, i
		}
	}
	return nil, -1
}

// confirm reconciles the optimistic node matching tempID with the server
// receipt. Matching is by temp id, so confirmations may arrive in any order.
func (s *Store) confirm(entryID domain.ID, parentID *domain.ID, tempID domain.ID, receipt domain.CommentReceipt) domain.Comment {
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return receiptComment(receipt, parentID)
	}
	list, i := locate(st.entry.Comments, parentID, tempID)
	if i < 0 {
		s.mu.Unlock()
		return receiptComment(receipt, parentID)
	}
	node := (*list)[i]
	if receipt.ID != "" {
		node.ID = receipt.ID
	}
	if !receipt.CreatedAt.IsZero() {
		node.CreatedAt = receipt.CreatedAt
	}
	if receipt.AuthorName != "" {
		node.AuthorName = receipt.AuthorName
	}
	if receipt.AuthorAvatar != "" {
		node.AuthorAvatar = receipt.AuthorAvatar
	}
	node.Pending = false
	out := *node.Clone()
	s.mu.Unlock()

	s.changed(entryID)
	return out
}

// receiptComment is returned when the entry was unloaded or reloaded while
// the submission was in flight.
func receiptComment(r domain.CommentReceipt, parentID *domain.ID) domain.Comment {
	return domain.Comment{
		ID:           r.ID,
		AuthorName:   r.AuthorName,
		AuthorAvatar: r.AuthorAvatar,
		CreatedAt:    r.CreatedAt,
		ParentID:     parentID,
	}
}

func (s *Store) discard(entryID domain.ID, parentID *domain.ID, tempID domain.ID) {
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if parentID == nil {
		list, i := locate(st.entry.Comments, nil, tempID)
		if i >= 0 {
			st.entry.Comments = append((*list)[:i:i], (*list)[i+1:]...)
		}
	} else {
		list, i := locate(st.entry.Comments, parentID, tempID)
		if i >= 0 {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
		}
	}
	s.mu.Unlock()
	s.changed(entryID)
}
