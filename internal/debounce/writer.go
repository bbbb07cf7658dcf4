// Package debounce coalesces bursts of writes that share a key into one
// delayed call. Rescheduling a key replaces its pending action; only the
// latest action ever runs. Actions of one key never overlap: a due action
// waits for the running one, so the server sees writes in order.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// DefaultDelay batches a burst of like clicks into one write.
const DefaultDelay = time.Second

// Action is the deferred write. It receives the writer's context, which is
// cancelled by Close.
type Action func(ctx context.Context) error

// Writer is a keyed debouncer. It is safe for concurrent use.
type Writer struct {
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	slots    map[string]*slot
	running  map[string]chan struct{} // closed when the key's action returns
	closed   bool
	inflight sync.WaitGroup
}

// slot is the pending state of one key. gen identifies the latest
// scheduled action; timers carrying an older gen are stale and do nothing.
type slot struct {
	delay time.Duration
	fire  func(f func())
	gen   uint64
}

func New(log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[string]*slot),
		running: make(map[string]chan struct{}),
	}
}

// Schedule arranges for action to run once delay has passed without another
// Schedule for the same key. A non-positive delay means DefaultDelay.
// onFailure, when set, receives the error of the action; it is never called
// for superseded or cancelled actions.
func (w *Writer) Schedule(key string, delay time.Duration, action Action, onFailure func(error)) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	s, ok := w.slots[key]
	if ok {
		w.log.Debug("debounce: superseding pending write", zap.String("key", key))
	}
	if !ok || s.delay != delay {
		var gen uint64
		if ok {
			gen = s.gen
		}
		s = &slot{delay: delay, fire: debounce.New(delay), gen: gen}
		w.slots[key] = s
	}
	s.gen++
	gen := s.gen
	s.fire(func() { w.run(key, s, gen, action, onFailure) })
}

func (w *Writer) run(key string, s *slot, gen uint64, action Action, onFailure func(error)) {
	w.mu.Lock()
	if w.closed || w.slots[key] != s || s.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.slots, key)
	prev := w.running[key]
	done := make(chan struct{})
	w.running[key] = done
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()
	defer func() {
		w.mu.Lock()
		if w.running[key] == done {
			delete(w.running, key)
		}
		w.mu.Unlock()
		close(done)
	}()

	if prev != nil {
		w.log.Debug("debounce: waiting for running write", zap.String("key", key))
		select {
		case <-prev:
		case <-w.ctx.Done():
		}
		if w.ctx.Err() != nil {
			return
		}
	}

	err := action(w.ctx)
	if err == nil {
		return
	}
	if w.ctx.Err() != nil {
		w.log.Debug("debounce: write aborted by close", zap.String("key", key), zap.Error(err))
		return
	}
	w.log.Warn("debounce: write failed", zap.String("key", key), zap.Error(err))
	if onFailure != nil {
		onFailure(err)
	}
}

// Pending reports whether key has a scheduled action that is not yet due.
func (w *Writer) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.slots[key]
	return ok
}

// Cancel drops the pending action for key. It reports whether there was one.
// An action that already started is not affected.
func (w *Writer) Cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.slots[key]
	delete(w.slots, key)
	return ok
}

// Close drops every pending action, cancels the context of running ones and
// waits for them to return. Schedule is a no-op afterwards.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.slots = make(map[string]*slot)
	w.mu.Unlock()

	w.cancel()
	w.inflight.Wait()
}
