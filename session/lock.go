package session

import (
	"context"
	"sync"
)

// UnlockFunc releases a thread lock.
type UnlockFunc func(ctx context.Context) error

// Locker serializes turns on the same thread.
type Locker interface {
	Lock(ctx context.Context, threadID string) (UnlockFunc, error)
}

// MutexLocker is an in-process Locker keyed by thread id. Entries are
// dropped once no goroutine holds or waits for them.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

// NewMutexLocker creates an in-process thread locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{
		locks: make(map[string]*threadLock),
	}
}

// Lock blocks until the thread is free or ctx is done.
func (l *MutexLocker) Lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		var once sync.Once
		return func(context.Context) error {
			once.Do(func() {
				<-tl.ch
				l.release(threadID, tl)
			})
			return nil
		}, nil
	case <-ctx.Done():
		l.release(threadID, tl)
		return nil, ctx.Err()
	}
}

func (l *MutexLocker) release(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
}

// held reports how many thread entries are tracked; used by tests.
func (l *MutexLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
