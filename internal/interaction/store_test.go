package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/diary-sync/internal/commenttree"
	"github.com/example/diary-sync/internal/domain"
)

const testLikeDelay = 40 * time.Millisecond

/*************
 * Fake diary service
 *************/

type fakeService struct {
	mu sync.Mutex

	entry  domain.Entry
	getErr error

	likes  []bool
	likeFn func(call int, liked bool) error

	posted    []string
	commentFn func(text string) (domain.CommentReceipt, error)
	replyFn   func(parentID domain.ID, text string) (domain.CommentReceipt, error)
}

func (f *fakeService) GetEntry(_ context.Context, _ domain.ID) (domain.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry, f.getErr
}

func (f *fakeService) PostLike(_ context.Context, _ domain.ID, liked bool) error {
	f.mu.Lock()
	f.likes = append(f.likes, liked)
	n := len(f.likes)
	fn := f.likeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, liked)
	}
	return nil
}

func (f *fakeService) PostComment(_ context.Context, _ domain.ID, text string) (domain.CommentReceipt, error) {
	f.mu.Lock()
	f.posted = append(f.posted, text)
	fn := f.commentFn
	f.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return domain.CommentReceipt{ID: "srv-" + domain.ID(text), AuthorName: "me", CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeService) PostReply(_ context.Context, _ domain.ID, parentID domain.ID, text string) (domain.CommentReceipt, error) {
	f.mu.Lock()
	f.posted = append(f.posted, text)
	fn := f.replyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(parentID, text)
	}
	return domain.CommentReceipt{ID: "srv-" + domain.ID(text), AuthorName: "me", CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeService) likeCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.likes...)
}

func (f *fakeService) postedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) add(x Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, x)
}

func (n *noticeLog) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func (n *noticeLog) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notices[len(n.notices)-1]
}

func parent(id string) *domain.ID {
	p := domain.ID(id)
	return &p
}

func newEntry() domain.Entry {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.Entry{
		ID:        "e1",
		Title:     "rainy day",
		LikeCount: 10,
		Liked:     false,
		Comments: []*domain.Comment{
			{ID: "1", Text: "first", CreatedAt: ts},
			{ID: "2", Text: "second", CreatedAt: ts},
			{ID: "3", Text: "reply to first", CreatedAt: ts, ParentID: parent("1")},
		},
	}
}

func newStore(t *testing.T, svc *fakeService, notices *noticeLog) *Store {
	t.Helper()
	opts := Options{LikeDelay: testLikeDelay, Viewer: domain.Author{Name: "viewer"}}
	if notices != nil {
		opts.OnNotice = notices.add
	}
	s := New(svc, opts)
	t.Cleanup(s.Close)
	require.NoError(t, s.LoadEntry(context.Background(), "e1"))
	return s
}

/*************
 * Loading
 *************/

func TestLoadEntry_BuildsTree(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	svc.entry.Comments = append(svc.entry.Comments, &domain.Comment{ID: "9", Text: "orphan", ParentID: parent("99")})
	s := newStore(t, svc, nil)

	e, ok := s.Entry("e1")
	require.True(t, ok)
	require.Len(t, e.Comments, 2)
	require.Len(t, e.Comments[0].Replies, 1)
	require.Equal(t, domain.ID("3"), e.Comments[0].Replies[0].ID)
	require.Equal(t, domain.LikeState{Liked: false, Count: 10}, domain.LikeState{Liked: e.Liked, Count: e.LikeCount})
}

func TestLoadEntry_OrphanPolicyError(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	svc.entry.Comments = append(svc.entry.Comments, &domain.Comment{ID: "9", ParentID: parent("99")})
	s := New(svc, Options{Orphans: commenttree.OrphanError})
	defer s.Close()

	err := s.LoadEntry(context.Background(), "e1")
	require.ErrorIs(t, err, commenttree.ErrOrphanReply)
	_, ok := s.Entry("e1")
	require.False(t, ok)
}

func TestLoadEntry_FetchError(t *testing.T) {
	boom := errors.New("unavailable")
	s := New(&fakeService{getErr: boom}, Options{})
	defer s.Close()

	require.ErrorIs(t, s.LoadEntry(context.Background(), "e1"), boom)
}

func TestLoadEntry_NegativeCountClamped(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	svc.entry.LikeCount = -3
	s := newStore(t, svc, nil)

	like, ok := s.Like("e1")
	require.True(t, ok)
	require.Equal(t, 0, like.Count)
}

func TestEntry_ReturnsCopy(t *testing.T) {
	s := newStore(t, &fakeService{entry: newEntry()}, nil)

	e, _ := s.Entry("e1")
	e.Comments[0].Text = "mutated"
	e.Comments[0].Replies = nil

	again, _ := s.Entry("e1")
	require.Equal(t, "first", again.Comments[0].Text)
	require.Len(t, again.Comments[0].Replies, 1)
}

/*************
 * Likes
 *************/

func TestToggleLike_BurstSendsLastState(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	s := newStore(t, svc, nil)

	states := make([]domain.LikeState, 0, 3)
	for i := 0; i < 3; i++ {
		st, err := s.ToggleLike("e1")
		require.NoError(t, err)
		states = append(states, st)
	}
	require.Equal(t, []domain.LikeState{{Liked: true, Count: 11}, {Liked: false, Count: 10}, {Liked: true, Count: 11}}, states)

	require.Eventually(t, func() bool { return len(svc.likeCalls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * testLikeDelay)
	require.Equal(t, []bool{true}, svc.likeCalls())

	like, _ := s.Like("e1")
	require.Equal(t, domain.LikeState{Liked: true, Count: 11}, like)
}

func TestToggleLike_FailureRestoresStateBeforeBurst(t *testing.T) {
	boom := errors.New("network down")
	svc := &fakeService{entry: newEntry(), likeFn: func(int, bool) error { return boom }}
	notices := &noticeLog{}
	s := newStore(t, svc, notices)

	for i := 0; i < 4; i++ {
		_, err := s.ToggleLike("e1")
		require.NoError(t, err)
	}
	_, err := s.ToggleLike("e1")
	require.NoError(t, err)
	like, _ := s.Like("e1")
	require.Equal(t, domain.LikeState{Liked: true, Count: 11}, like)

	require.Eventually(t, func() bool { return notices.len() == 1 }, time.Second, 5*time.Millisecond)
	like, _ = s.Like("e1")
	require.Equal(t, domain.LikeState{Liked: false, Count: 10}, like)

	n := notices.last()
	require.Equal(t, NoticeLikeFailed, n.Kind)
	require.Equal(t, domain.ID("e1"), n.EntryID)
	require.ErrorIs(t, n.Err, boom)
}

func TestToggleLike_SecondBurstRebasedOnFailedWrite(t *testing.T) {
	boom := errors.New("rejected")
	started := make(chan struct{})
	release := make(chan struct{})
	svc := &fakeService{entry: newEntry()}
	svc.likeFn = func(call int, _ bool) error {
		if call == 1 {
			close(started)
			<-release
		}
		return boom
	}
	notices := &noticeLog{}
	s := newStore(t, svc, notices)

	_, err := s.ToggleLike("e1")
	require.NoError(t, err)
	<-started

	// New burst while the first write is on the wire.
	st, err := s.ToggleLike("e1")
	require.NoError(t, err)
	require.Equal(t, domain.LikeState{Liked: false, Count: 10}, st)
	close(release)

	require.Eventually(t, func() bool { return notices.len() == 2 }, time.Second, 5*time.Millisecond)
	like, _ := s.Like("e1")
	require.Equal(t, domain.LikeState{Liked: false, Count: 10}, like)
}

func TestToggleLike_CountNeverNegative(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	svc.entry.Liked = true
	svc.entry.LikeCount = 0
	s := newStore(t, svc, nil)

	st, err := s.ToggleLike("e1")
	require.NoError(t, err)
	require.Equal(t, domain.LikeState{Liked: false, Count: 0}, st)
	st, err = s.ToggleLike("e1")
	require.NoError(t, err)
	require.Equal(t, domain.LikeState{Liked: true, Count: 1}, st)
}

func TestToggleLike_UnknownEntry(t *testing.T) {
	s := New(&fakeService{}, Options{})
	defer s.Close()

	_, err := s.ToggleLike("nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestToggleLike_UnloadedEntryStillWrites(t *testing.T) {
	svc := &fakeService{entry: newEntry(), likeFn: func(int, bool) error { return errors.New("fail") }}
	notices := &noticeLog{}
	s := newStore(t, svc, notices)

	_, err := s.ToggleLike("e1")
	require.NoError(t, err)
	s.Unload("e1")

	require.Eventually(t, func() bool { return len(svc.likeCalls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(testLikeDelay)
	require.Zero(t, notices.len())
}

/*************
 * Comments
 *************/

func TestAppendComment_OptimisticThenConfirmed(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{entry: newEntry()}
	svc.commentFn = func(text string) (domain.CommentReceipt, error) {
		<-release
		return domain.CommentReceipt{ID: "42", AuthorName: "Kim", AuthorAvatar: "/a.png", CreatedAt: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)}, nil
	}
	s := newStore(t, svc, nil)

	type result struct {
		c   domain.Comment
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.AppendComment(context.Background(), "e1", "hello")
		done <- result{c, err}
	}()

	var tempID domain.ID
	require.Eventually(t, func() bool {
		e, _ := s.Entry("e1")
		if len(e.Comments) != 3 {
			return false
		}
		tempID = e.Comments[2].ID
		return true
	}, time.Second, 5*time.Millisecond)
	require.True(t, IsTempID(tempID))
	e, _ := s.Entry("e1")
	require.True(t, e.Comments[2].Pending)
	require.Equal(t, "viewer", e.Comments[2].AuthorName)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, domain.ID("42"), res.c.ID)

	e, _ = s.Entry("e1")
	require.Len(t, e.Comments, 3)
	require.Equal(t, domain.ID("42"), e.Comments[2].ID)
	require.Equal(t, "hello", e.Comments[2].Text)
	require.Equal(t, "Kim", e.Comments[2].AuthorName)
	require.False(t, e.Comments[2].Pending)
}

func TestAppendComment_FailureRemovesOptimisticNode(t *testing.T) {
	boom := errors.New("500")
	svc := &fakeService{entry: newEntry(), commentFn: func(string) (domain.CommentReceipt, error) {
		return domain.CommentReceipt{}, boom
	}}
	notices := &noticeLog{}
	s := newStore(t, svc, notices)

	_, err := s.AppendComment(context.Background(), "e1", "hello")
	require.ErrorIs(t, err, boom)
	require.False(t, IsValidation(err))

	e, _ := s.Entry("e1")
	require.Len(t, e.Comments, 2)
	require.Equal(t, 1, notices.len())
	require.Equal(t, NoticeCommentFailed, notices.last().Kind)
}

func TestAppendComment_EmptyTextIsValidationFailure(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	s := newStore(t, svc, nil)

	_, err := s.AppendComment(context.Background(), "e1", "   \n\t")
	require.ErrorIs(t, err, ErrEmptyText)
	require.True(t, IsValidation(err))
	require.Empty(t, svc.postedTexts())
	e, _ := s.Entry("e1")
	require.Len(t, e.Comments, 2)
}

func TestAppendComment_OutOfOrderConfirmations(t *testing.T) {
	gates := map[string]chan struct{}{"a": make(chan struct{}), "b": make(chan struct{})}
	svc := &fakeService{entry: newEntry()}
	svc.commentFn = func(text string) (domain.CommentReceipt, error) {
		<-gates[text]
		return domain.CommentReceipt{ID: domain.ID("srv-" + text)}, nil
	}
	s := newStore(t, svc, nil)

	var wg sync.WaitGroup
	for i, text := range []string{"a", "b"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := s.AppendComment(context.Background(), "e1", text)
			assert.NoError(t, err)
		}(text)
		// Keep a before b in the tree.
		require.Eventually(t, func() bool { return len(svc.postedTexts()) == i+1 }, time.Second, time.Millisecond)
	}

	close(gates["b"])
	require.Eventually(t, func() bool {
		e, _ := s.Entry("e1")
		for _, c := range e.Comments {
			if c.ID == "srv-b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	close(gates["a"])
	wg.Wait()

	e, _ := s.Entry("e1")
	require.Len(t, e.Comments, 4)
	got := map[string]domain.ID{}
	for _, c := range e.Comments[2:] {
		got[c.Text] = c.ID
	}
	require.Equal(t, map[string]domain.ID{"a": "srv-a", "b": "srv-b"}, got)
}

/*************
 * Replies
 *************/

func TestAppendReply_Success(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	s := newStore(t, svc, nil)

	c, err := s.AppendReply(context.Background(), "e1", "2", "nice")
	require.NoError(t, err)
	require.Equal(t, domain.ID("srv-nice"), c.ID)
	require.NotNil(t, c.ParentID)
	require.Equal(t, domain.ID("2"), *c.ParentID)

	e, _ := s.Entry("e1")
	require.Len(t, e.Comments, 2)
	require.Len(t, e.Comments[1].Replies, 1)
	require.Equal(t, domain.ID("srv-nice"), e.Comments[1].Replies[0].ID)
}

func TestAppendReply_RejectsReplyToReply(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	s := newStore(t, svc, nil)
	before, _ := s.Entry("e1")

	_, err := s.AppendReply(context.Background(), "e1", "3", "deeper")
	require.ErrorIs(t, err, ErrReplyToReply)
	require.True(t, IsValidation(err))
	require.Empty(t, svc.postedTexts())

	after, _ := s.Entry("e1")
	require.Equal(t, before, after)
}

func TestAppendReply_UnknownParent(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	s := newStore(t, svc, nil)

	_, err := s.AppendReply(context.Background(), "e1", "77", "hi")
	require.ErrorIs(t, err, ErrParentNotFound)
	require.Empty(t, svc.postedTexts())
}

func TestAppendReply_PendingParentRejected(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{entry: newEntry()}
	svc.commentFn = func(string) (domain.CommentReceipt, error) {
		<-release
		return domain.CommentReceipt{ID: "50"}, nil
	}
	s := newStore(t, svc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.AppendComment(context.Background(), "e1", "parent")
	}()
	var tempID domain.ID
	require.Eventually(t, func() bool {
		e, _ := s.Entry("e1")
		if len(e.Comments) != 3 {
			return false
		}
		tempID = e.Comments[2].ID
		return true
	}, time.Second, 5*time.Millisecond)

	_, err := s.AppendReply(context.Background(), "e1", tempID, "too early")
	require.ErrorIs(t, err, ErrParentNotConfirmed)
	close(release)
	<-done
}

func TestAppendReply_FailureRemovesOptimisticNode(t *testing.T) {
	svc := &fakeService{entry: newEntry(), replyFn: func(domain.ID, string) (domain.CommentReceipt, error) {
		return domain.CommentReceipt{}, errors.New("timeout")
	}}
	notices := &noticeLog{}
	s := newStore(t, svc, notices)

	_, err := s.AppendReply(context.Background(), "e1", "1", "hey")
	require.Error(t, err)

	e, _ := s.Entry("e1")
	require.Len(t, e.Comments[0].Replies, 1)
	require.Equal(t, domain.ID("3"), e.Comments[0].Replies[0].ID)
	require.Equal(t, NoticeReplyFailed, notices.last().Kind)
}

func TestOnChange_CalledOutsideLock(t *testing.T) {
	svc := &fakeService{entry: newEntry()}
	var s *Store
	calls := 0
	s = New(svc, Options{OnChange: func(id domain.ID) {
		// Reading back from the hook must not deadlock.
		_, _ = s.Entry(id)
		calls++
	}})
	defer s.Close()

	require.NoError(t, s.LoadEntry(context.Background(), "e1"))
	_, err := s.AppendComment(context.Background(), "e1", "x")
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}
