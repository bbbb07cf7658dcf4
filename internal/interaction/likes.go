package interaction

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/diary-sync/internal/domain"
)

// likeTicket is one like write handed to the network, with the state to
// restore if the server rejects it.
type likeTicket struct {
	baseline domain.LikeState
	version  uint64
}

func likeKey(entryID domain.ID) string { return "like:" + string(entryID) }

// ToggleLike flips the like flag and moves the count by one at once, then
// schedules a debounced write of the resulting flag. If that write fails,
// the state before the first toggle of the burst is restored.
func (s *Store) ToggleLike(entryID domain.ID) (domain.LikeState, error) {
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return domain.LikeState{}, ErrEntryNotFound
	}
	if st.burst == nil {
		b := st.like
		st.burst = &b
	}
	st.like = st.like.Toggled()
	st.version++
	state := st.like
	s.mu.Unlock()

	var ticket *likeTicket
	s.writer.Schedule(likeKey(entryID), s.opts.LikeDelay,
		func(ctx context.Context) error {
			ticket = s.beginLikeWrite(entryID, state)
			if err := s.svc.PostLike(ctx, entryID, state.Liked); err != nil {
				return err
			}
			s.finishLikeWrite(entryID, ticket)
			return nil
		},
		func(err error) {
			s.rollbackLike(entryID, ticket, err)
		},
	)

	s.changed(entryID)
	return state, nil
}

// beginLikeWrite closes the current burst: toggles after this point start
// a new one with its own baseline.
func (s *Store) beginLikeWrite(entryID domain.ID, sent domain.LikeState) *likeTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[entryID]
	if !ok {
		return nil
	}
	t := &likeTicket{baseline: sent, version: st.version}
	if st.burst != nil {
		t.baseline = *st.burst
	}
	st.burst = nil
	st.inflight = t
	s.log.Debug("like write sent", zap.String("entry_id", entryID.String()), zap.Bool("liked", sent.Liked))
	return t
}

func (s *Store) finishLikeWrite(entryID domain.ID, t *likeTicket) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entries[entryID]; ok && st.inflight == t {
		st.inflight = nil
	}
}

func (s *Store) rollbackLike(entryID domain.ID, t *likeTicket, err error) {
	if t == nil {
		// Entry was unloaded before the write went out.
		return
	}
	s.mu.Lock()
	st, ok := s.entries[entryID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if st.inflight == t {
		st.inflight = nil
	}
	restored := false
	switch {
	case st.version == t.version:
		st.like = t.baseline
		restored = true
	case st.burst != nil:
		// The server never saw the failed state, so the newer burst must
		// fall back to what the failed write would have replaced.
		b := t.baseline
		st.burst = &b
	case st.inflight != nil:
		st.inflight.baseline = t.baseline
	}
	state := st.like
	s.mu.Unlock()

	s.log.Warn("like write failed",
		zap.String("entry_id", entryID.String()),
		zap.Bool("restored", restored),
		zap.Bool("liked", state.Liked),
		zap.Int("count", state.Count),
		zap.Error(err))
	s.notice(Notice{Kind: NoticeLikeFailed, EntryID: entryID, Err: err})
	if restored {
		s.changed(entryID)
	}
}
