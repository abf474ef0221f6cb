package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPrefRWLock_SharedReaders(t *testing.T) {
	var l ReadPrefRWLock
	ctx := context.Background()

	r1, err := l.RLock(ctx)
	require.NoError(t, err)
	r2, err := l.RLock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, l.ActiveLocks())

	r1.Release()
	r1.Release() // idempotent
	assert.False(t, r1.IsActive())
	assert.Equal(t, 1, l.ActiveLocks())

	r2.Release()
	assert.Equal(t, 0, l.ActiveLocks())
}

func TestReadPrefRWLock_WriterWaitsForReaders(t *testing.T) {
	var l ReadPrefRWLock
	ctx := context.Background()

	r, err := l.RLock(ctx)
	require.NoError(t, err)

	acquired := make(chan Lock)
	go func() {
		w, err := l.Lock(ctx)
		if err == nil {
			acquired <- w
		}
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired lock while a reader was active")
	case <-time.After(50 * time.Millisecond):
	}

	r.Release()

	select {
	case w := <-acquired:
		assert.True(t, w.IsActive())
		w.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired lock")
	}
}

func TestReadPrefRWLock_ReadersNotBlockedByWaitingWriter(t *testing.T) {
	var l ReadPrefRWLock
	ctx := context.Background()

	r1, err := l.RLock(ctx)
	require.NoError(t, err)

	writerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writerDone := make(chan error, 1)
	go func() {
		w, err := l.Lock(writerCtx)
		if err == nil {
			w.Release()
		}
		writerDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// A new reader must get in even though the writer is queued.
	r2, ok := l.TryRLock()
	require.True(t, ok)
	r3, err := l.RLock(ctx)
	require.NoError(t, err)

	r1.Release()
	r2.Release()
	r3.Release()

	select {
	case err := <-writerDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired lock")
	}
}

func TestReadPrefRWLock_WriterExcludesReaders(t *testing.T) {
	var l ReadPrefRWLock
	w, err := l.Lock(context.Background())
	require.NoError(t, err)

	_, ok := l.TryRLock()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.RLock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	w.Release()
	r, ok := l.TryRLock()
	require.True(t, ok)
	r.Release()
}

func TestReadPrefRWLock_WriterInterrupted(t *testing.T) {
	var l ReadPrefRWLock
	r, err := l.RLock(context.Background())
	require.NoError(t, err)
	defer r.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.ActiveLocks(), "interrupted writer must not hold the lock")
}

func TestReadPrefRWLock_WaitForActiveLocks(t *testing.T) {
	var l ReadPrefRWLock
	r, err := l.RLock(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.WaitForActiveLocks(ctx))

	r2, err := l.RLock(context.Background())
	require.NoError(t, err)
	defer r2.Release()
	short, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, l.WaitForActiveLocks(short), ErrInterrupted)
}

func TestReadPrefRWLock_Concurrent(t *testing.T) {
	var l ReadPrefRWLock
	ctx := context.Background()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w, err := l.Lock(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				counter++
				w.Release()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r, err := l.RLock(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				_ = counter
				r.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, counter)
	assert.Equal(t, 0, l.ActiveLocks())
}

func TestExclusiveLock(t *testing.T) {
	l := NewExclusiveLock()
	ctx := context.Background()

	h, err := l.Lock(ctx)
	require.NoError(t, err)
	assert.True(t, l.IsLocked())

	_, ok := l.TryLock()
	assert.False(t, ok)

	second := make(chan Lock)
	go func() {
		h2, err := l.Lock(ctx)
		if err == nil {
			second <- h2
		}
	}()

	select {
	case <-second:
		t.Fatal("second holder acquired lock while first still held it")
	case <-time.After(30 * time.Millisecond):
	}

	h.Release()
	h.Release()

	select {
	case h2 := <-second:
		h2.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired lock")
	}
	assert.False(t, l.IsLocked())
}

func TestExclusiveLock_Interrupted(t *testing.T) {
	l := NewExclusiveLock()
	h, ok := l.TryLock()
	require.True(t, ok)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
}
