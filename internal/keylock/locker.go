// Package keylock serialises work on a single key without a global lock.
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned when a lock could not be acquired in time
var ErrTimeout = errors.New("lock wait timed out")

// Locker grants exclusive access to a key until the returned func is called
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process Locker. Entries live only while a key is held or awaited.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch      chan struct{} // buffered(1), holds the token when free
	waiters int
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		lk.ch <- struct{}{}
		l.locks[key] = lk
	}
	lk.waiters++
	l.mu.Unlock()

	select {
	case <-lk.ch:
	case <-ctx.Done():
		l.release(key, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, true) })
	}, nil
}

func (l *Local) release(key string, lk *localLock, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held {
		lk.ch <- struct{}{}
	}
	lk.waiters--
	if lk.waiters == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently tracked
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
