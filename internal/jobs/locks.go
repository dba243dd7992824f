package jobs

import (
	"context"
	"sync"

	"github.com/runnerr0/trail/internal/apperr"
)

// Locks is a set of named mutexes. A name's lock exists only while it is
// held or awaited.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	ch   chan struct{}
	refs int
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{locks: map[string]*namedLock{}}
}

func (l *Locks) ref(name string) *namedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	nl := l.locks[name]
	if nl == nil {
		nl = &namedLock{ch: make(chan struct{}, 1)}
		l.locks[name] = nl
	}
	nl.refs++
	return nl
}

func (l *Locks) unref(name string, nl *namedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nl.refs--
	if nl.refs == 0 {
		delete(l.locks, name)
	}
}

// With runs fn while holding the lock called name. The lock is released
// when fn returns, whether or not it fails. Waiting for the lock stops
// with Aborted when ctx is done.
func (l *Locks) With(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	nl := l.ref(name)
	defer l.unref(name, nl)

	select {
	case nl.ch <- struct{}{}:
	case <-ctx.Done():
		return apperr.CheckAbort(ctx)
	}
	defer func() { <-nl.ch }()
	return fn(ctx)
}

// Held reports whether name is currently locked.
func (l *Locks) Held(name string) bool {
	l.mu.Lock()
	nl := l.locks[name]
	l.mu.Unlock()
	return nl != nil && len(nl.ch) > 0
}
