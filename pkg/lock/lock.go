// Package lock provides the two lock domains used by the statement store.
//
// ReadPrefRWLock guards the statement lists: any number of readers (cursors,
// transactions appending statements) share it, and only snapshot cleanup takes
// it exclusively. Unlike sync.RWMutex it is read-preferring: a waiting writer
// never blocks new readers, so cleanup cannot stall query traffic. Readers may
// also acquire it recursively from the same goroutine without deadlock, which
// sync.RWMutex forbids.
//
// ExclusiveLock serializes transactions: exactly one holder at a time.
//
// Both hand out Lock handles instead of exposing Unlock, so a handle can be
// passed to a cursor that releases it when closed. Release is idempotent.
//
// Acquisition takes a context. A cancelled wait returns an error wrapping
// ErrInterrupted and the context error; the lock is not held in that case.
//
// Example:
//
//	var stLock lock.ReadPrefRWLock
//	l, err := stLock.RLock(ctx)
//	if err != nil {
//		return err
//	}
//	defer l.Release()
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrInterrupted is returned when a lock wait is abandoned because its
// context ended.
var ErrInterrupted = errors.New("lock: interrupted while waiting")

// Lock is a held lock. Release gives it back; calling Release more than once
// is a no-op.
type Lock interface {
	IsActive() bool
	Release()
}

type handle struct {
	released atomic.Bool
	release  func()
}

func newHandle(release func()) *handle {
	return &handle{release: release}
}

func (h *handle) IsActive() bool {
	return !h.released.Load()
}

func (h *handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.release()
	}
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
}

// ReadPrefRWLock is a read-preferring shared/exclusive lock.
// The zero value is ready to use.
type ReadPrefRWLock struct {
	mu      sync.Mutex
	readers int
	writer  bool
	// changed is closed and replaced whenever readers or writer changes,
	// waking every waiter to re-check.
	changed chan struct{}
}

func (l *ReadPrefRWLock) notifyLocked() {
	if l.changed != nil {
		close(l.changed)
		l.changed = nil
	}
}

func (l *ReadPrefRWLock) waitChanLocked() <-chan struct{} {
	if l.changed == nil {
		l.changed = make(chan struct{})
	}
	return l.changed
}

// RLock acquires a shared lock. It only waits while a writer holds the lock.
func (l *ReadPrefRWLock) RLock(ctx context.Context) (Lock, error) {
	for {
		l.mu.Lock()
		if !l.writer {
			l.readers++
			l.mu.Unlock()
			return newHandle(l.releaseRead), nil
		}
		wait := l.waitChanLocked()
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, interrupted(ctx)
		}
	}
}

// TryRLock acquires a shared lock if no writer holds it.
func (l *ReadPrefRWLock) TryRLock() (Lock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer {
		return nil, false
	}
	l.readers++
	return newHandle(l.releaseRead), true
}

// Lock acquires the exclusive lock, waiting until no reader or writer holds
// it. New readers keep being admitted while Lock waits; ctx bounds the wait.
func (l *ReadPrefRWLock) Lock(ctx context.Context) (Lock, error) {
	for {
		l.mu.Lock()
		if !l.writer && l.readers == 0 {
			l.writer = true
			l.mu.Unlock()
			return newHandle(l.releaseWrite), nil
		}
		wait := l.waitChanLocked()
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, interrupted(ctx)
		}
	}
}

func (l *ReadPrefRWLock) releaseRead() {
	l.mu.Lock()
	l.readers--
	if l.readers < 0 {
		l.mu.Unlock()
		panic("lock: shared lock released more often than acquired")
	}
	if l.readers == 0 {
		l.notifyLocked()
	}
	l.mu.Unlock()
}

func (l *ReadPrefRWLock) releaseWrite() {
	l.mu.Lock()
	l.writer = false
	l.notifyLocked()
	l.mu.Unlock()
}

// ActiveLocks returns the number of currently held locks (readers plus writer).
func (l *ReadPrefRWLock) ActiveLocks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.readers
	if l.writer {
		n++
	}
	return n
}

// WaitForActiveLocks blocks until no lock is held or ctx ends.
func (l *ReadPrefRWLock) WaitForActiveLocks(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.readers == 0 && !l.writer {
			l.mu.Unlock()
			return nil
		}
		wait := l.waitChanLocked()
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return interrupted(ctx)
		}
	}
}

// ExclusiveLock is a single-holder lock with blocking and try semantics.
type ExclusiveLock struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewExclusiveLock returns an unlocked ExclusiveLock.
func NewExclusiveLock() *ExclusiveLock {
	return &ExclusiveLock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is acquired or ctx ends.
func (l *ExclusiveLock) Lock(ctx context.Context) (Lock, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, interrupted(ctx)
	}
	l.held.Store(true)
	return newHandle(l.release), nil
}

// TryLock acquires the lock only if it is free.
func (l *ExclusiveLock) TryLock() (Lock, bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	l.held.Store(true)
	return newHandle(l.release), true
}

// IsLocked reports whether the lock is currently held.
func (l *ExclusiveLock) IsLocked() bool {
	return l.held.Load()
}

func (l *ExclusiveLock) release() {
	l.held.Store(false)
	l.sem.Release(1)
}
