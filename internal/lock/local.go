// Package lock provides keyed mutual exclusion for the admission
// engine.  Local serializes callers inside one process; Redis extends
// the same guarantee across instances sharing a Redis server.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
)

// Local is an in-process keyed lock.  Each key owns a one-slot channel
// that is created on first use and dropped once nobody holds or waits
// for it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an empty Local.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
	return &localLease{release: func() {
		<-s.ch
		l.drop(key, s)
	}}, nil
}

// localLease never expires; it is only lost by releasing it.
type localLease struct {
	once     sync.Once
	released atomic.Bool
	release  func()
}

func (ll *localLease) Release() {
	ll.once.Do(func() {
		ll.released.Store(true)
		ll.release()
	})
}

func (ll *localLease) Confirm(context.Context) error {
	if ll.released.Load() {
		return ErrLost
	}
	return nil
}

// Held reports how many keys currently have a holder or a waiter.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
