package similarity

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/pkg/utils"
)

// Handle is the process-wide slot for the open collection. It opens the collection on first
// use and keeps it open until Drop. Create one at startup and pass it to whatever needs it.
type Handle struct {
	open   func() (*Search, error)
	logger *zap.Logger

	mu      sync.Mutex
	current *lease
	closing chan struct{} // non-nil while a Drop is closing the previous Search
}

// lease tracks the callers holding one Search. idle is closed once the lease is retired
// and the last holder has released it.
type lease struct {
	search  *Search
	refs    int
	retired bool
	idle    chan struct{}
}

// NewHandle returns a Handle that calls open whenever no collection is open.
func NewHandle(open func() (*Search, error), logger *zap.Logger) *Handle {
	return &Handle{open: open, logger: utils.OrNop(logger)}
}

// Acquire returns the open Search, opening it if needed, and a release func that must be
// called when the caller is done with it. While a Drop is closing the previous Search,
// Acquire waits for it to finish so that only one Search owns the snapshot files. A
// holder must release before acquiring again when a Drop may be pending.
func (h *Handle) Acquire() (*Search, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waitClosedLocked()
	if h.current == nil {
		s, err := h.open()
		if err != nil {
			return nil, nil, err
		}
		h.current = &lease{search: s, idle: make(chan struct{})}
		h.logger.Debug("similarity index opened", zap.String("collection", s.Collection()))
	}
	l := h.current
	l.refs++
	var once sync.Once
	release := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			l.refs--
			if l.retired && l.refs == 0 {
				close(l.idle)
			}
		})
	}
	return l.search, release, nil
}

// With runs fn with the open Search and releases it afterwards.
func (h *Handle) With(fn func(*Search) error) error {
	s, release, err := h.Acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}

// Drop detaches the open Search, waits for current holders to release it and closes it,
// which saves the index. The next Acquire opens the collection again from disk once the
// close has finished. Dropping with nothing open waits for a pending Drop and returns nil.
func (h *Handle) Drop(ctx context.Context) error {
	h.mu.Lock()
	h.waitClosedLocked()
	l := h.current
	h.current = nil
	if l == nil {
		h.mu.Unlock()
		return nil
	}
	l.retired = true
	if l.refs == 0 {
		close(l.idle)
	}
	closing := make(chan struct{})
	h.closing = closing
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.closing = nil
		close(closing)
		h.mu.Unlock()
	}()

	select {
	case <-l.idle:
	case <-ctx.Done():
		h.logger.Warn("closing similarity index with holders still active", zap.String("collection", l.search.Collection()))
	}
	err := l.search.Close(ctx)
	h.logger.Debug("similarity index dropped", zap.String("collection", l.search.Collection()), zap.Error(err))
	return err
}

// waitClosedLocked blocks until no Drop is closing a Search. h.mu must be held; it is
// released while waiting.
func (h *Handle) waitClosedLocked() {
	for h.closing != nil {
		c := h.closing
		h.mu.Unlock()
		<-c
		h.mu.Lock()
	}
}

// IsOpen reports whether a Search is currently held by the Handle.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}
