// Package interaction holds the like state and comment tree of every diary
// entry a view has open, and applies user actions optimistically: the
// local state changes at once and is compensated if the server rejects it.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/commenttree"
	"github.com/example/diary-sync/internal/debounce"
	"github.com/example/diary-sync/internal/domain"
)

var (
	ErrEntryNotFound = errors.New("entry not loaded")

	// Validation failures. Nothing is mutated and nothing is sent.
	ErrEmptyText          = errors.New("comment text is empty")
	ErrParentNotFound     = errors.New("parent comment not found")
	ErrReplyToReply       = errors.New("cannot reply to a reply")
	ErrParentNotConfirmed = errors.New("parent comment is not confirmed yet")
)

// IsValidation reports whether err is a validation failure the caller
// should suppress rather than surface.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrReplyToReply) || errors.Is(err, ErrParentNotConfirmed)
}

// DiaryReader fetches an entry with its flat comment list.
type DiaryReader interface {
	GetEntry(ctx context.Context, entryID domain.ID) (domain.Entry, error)
}

type LikeWriter interface {
	PostLike(ctx context.Context, entryID domain.ID, liked bool) error
}

type CommentWriter interface {
	PostComment(ctx context.Context, entryID domain.ID, text string) (domain.CommentReceipt, error)
	PostReply(ctx context.Context, entryID, parentID domain.ID, text string) (domain.CommentReceipt, error)
}

// Service is everything the store needs from the diary API.
type Service interface {
	DiaryReader
	LikeWriter
	CommentWriter
}

type NoticeKind string

const (
	NoticeLikeFailed    NoticeKind = "like_failed"
	NoticeCommentFailed NoticeKind = "comment_failed"
	NoticeReplyFailed   NoticeKind = "reply_failed"
)

// Notice is a non-fatal failure the UI may show. State has already been
// restored to its last known good value when a notice is emitted.
type Notice struct {
	Kind    NoticeKind
	EntryID domain.ID
	Err     error
}

type Options struct {
	Log *zap.Logger
	// LikeDelay is the debounce window for like writes. Zero means
	// debounce.DefaultDelay.
	LikeDelay time.Duration
	Orphans   commenttree.OrphanPolicy
	// Viewer is shown as the author of optimistic comments until the
	// server returns the real author fields.
	Viewer domain.Author
	// Writer is shared with other stores when set; otherwise the store owns
	// one and closes it in Close.
	Writer *debounce.Writer

	OnChange func(entryID domain.ID)
	OnNotice func(Notice)

	Now func() time.Time
}

// Store is safe for concurrent use. The mutex is only held for in-memory
// work, never across a network call, so every mutation runs to completion
// before the next one starts.
type Store struct {
	svc  Service
	opts Options
	log  *zap.Logger

	writer     *debounce.Writer
	ownsWriter bool

	mu      sync.Mutex
	entries map[domain.ID]*entryState
}

type entryState struct {
	entry domain.Entry // Comments holds the two-level tree
	like  domain.LikeState

	// burst is the rollback target of toggles not yet handed to the
	// network; nil when no burst is pending.
	burst *domain.LikeState
	// inflight is the like write currently on the wire, if any.
	inflight *likeTicket
	// version counts toggles; a write knows whether newer toggles exist.
	version uint64
}

func New(svc Service, opts Options) *Store {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LikeDelay <= 0 {
		opts.LikeDelay = debounce.DefaultDelay
	}
	s := &Store{
		svc:     svc,
		opts:    opts,
		log:     opts.Log,
		writer:  opts.Writer,
		entries: make(map[domain.ID]*entryState),
	}
	if s.writer == nil {
		s.writer = debounce.New(opts.Log)
		s.ownsWriter = true
	}
	return s
}

// LoadEntry fetches the entry, builds its comment tree and replaces any
// state held for it. It never merges with in-flight optimistic mutations:
// callers must not load an entry while one of its writes is pending.
func (s *Store) LoadEntry(ctx context.Context, entryID domain.ID) error {
	e, err := s.svc.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("load entry %s: %w", entryID, err)
	}
	tree, err := commenttree.Build(e.Comments, s.opts.Orphans)
	if err != nil {
		return fmt.Errorf("load entry %s: %w", entryID, err)
	}
	if e.ID == "" {
		e.ID = entryID
	}
	e.Comments = tree
	count := e.LikeCount
	if count < 0 {
		count = 0
	}

	s.mu.Lock()
	s.entries[entryID] = &entryState{entry: e, like: domain.LikeState{Liked: e.Liked, Count: count}}
	s.mu.Unlock()

	top, replies := commenttree.Count(tree)
	s.log.Debug("entry loaded", zap.String("entry_id", entryID.String()),
		zap.Int("comments", top), zap.Int("replies", replies))
	s.changed(entryID)
	return nil
}

// Unload discards the state of an entry when its view goes away. A pending
// like write still reaches the server; its rollback becomes a no-op.
func (s *Store) Unload(entryID domain.ID) {
	s.mu.Lock()
	delete(s.entries, entryID)
	s.mu.Unlock()
}

// Entry returns a deep copy of the entry for display.
func (s *Store) Entry(entryID domain.ID) (domain.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[entryID]
	if !ok {
		return domain.Entry{}, false
	}
	out := st.entry
	out.LikeCount = st.like.Count
	out.Liked = st.like.Liked
	out.ImageURLs = append([]string(nil), st.entry.ImageURLs...)
	out.Comments = make([]*domain.Comment, len(st.entry.Comments))
	for i, c := range st.entry.Comments {
		out.Comments[i] = c.Clone()
	}
	return out, true
}

// Like returns the visible like state of an entry.
func (s *Store) Like(entryID domain.ID) (domain.LikeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[entryID]
	if !ok {
		return domain.LikeState{}, false
	}
	return st.like, true
}

// Close stops pending like writes. Running writes are cancelled without
// rollback.
func (s *Store) Close() {
	if s.ownsWriter {
		s.writer.Close()
	}
}

func (s *Store) changed(entryID domain.ID) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(entryID)
	}
}

func (s *Store) notice(n Notice) {
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(n)
	}
}
