package sail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// stubConn implements the few methods the tests call. Anything else panics
// through the nil embedded interface.
type stubConn struct {
	InferencerConnection

	mu       sync.Mutex
	open     bool
	active   bool
	closeErr error
	added    []rdf.Statement
	// inflight counts concurrent AddStatement calls.
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func newStub() *stubConn { return &stubConn{open: true} }

func (c *stubConn) Begin(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	return nil
}

func (c *stubConn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *stubConn) AddStatement(_ context.Context, st rdf.Statement, _ bool) (bool, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, st)
	return true, nil
}

func (c *stubConn) Size(context.Context, ...rdf.Resource) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added), nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.active = false
	return c.closeErr
}

func (c *stubConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

var testStatement = rdf.NewStatement(rdf.IRI("http://example.org/s"), rdf.IRI("http://example.org/p"), rdf.NewLiteral("o"), nil)

// countingWrapper overrides one method and inherits the rest.
type countingWrapper struct {
	ConnectionWrapper
	adds int
}

func (w *countingWrapper) AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (bool, error) {
	w.adds++
	return w.ConnectionWrapper.AddStatement(ctx, st, explicit)
}

func TestConnectionWrapper(t *testing.T) {
	ctx := context.Background()
	stub := newStub()
	var conn InferencerConnection = &countingWrapper{ConnectionWrapper: ConnectionWrapper{Delegate: stub}}

	require.NoError(t, conn.Begin(ctx))
	assert.True(t, conn.IsActive())
	ok, err := conn.AddStatement(ctx, testStatement, true)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := conn.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, conn.(*countingWrapper).adds)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsOpen())
}

func TestSynchronizedConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("serializes_updates", func(t *testing.T) {
		stub := newStub()
		conn := Synchronize(stub)
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := conn.AddStatement(ctx, testStatement, true)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), stub.maxSeen.Load())
		n, err := conn.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	})

	t.Run("close_waits_for_running_calls", func(t *testing.T) {
		stub := newStub()
		conn := Synchronize(stub)
		started := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.update(func() error {
				close(started)
				time.Sleep(20 * time.Millisecond)
				assert.True(t, stub.IsOpen(), "closed during a running call")
				return nil
			})
		}()
		<-started
		require.NoError(t, conn.Close())
		<-done
		assert.False(t, conn.IsOpen())
	})
}

func TestConnectionTracker(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("close_untracks_once", func(t *testing.T) {
		tracker := NewConnectionTracker(logger)
		tc := tracker.Track(newStub())
		assert.Equal(t, 1, tracker.Len())
		require.NoError(t, tc.Close())
		require.NoError(t, tc.Close())
		assert.Equal(t, 0, tracker.Len())
		assert.NoError(t, tracker.CloseAll(ctx))
	})

	t.Run("close_all_waits_for_owners", func(t *testing.T) {
		tracker := NewConnectionTracker(logger)
		stub := newStub()
		tc := tracker.Track(stub)
		go func() {
			time.Sleep(10 * time.Millisecond)
			tc.Close()
		}()
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		require.NoError(t, tracker.CloseAll(waitCtx))
		assert.False(t, stub.IsOpen())
		assert.Equal(t, 0, tracker.Len())
	})

	t.Run("close_all_forces_leftovers", func(t *testing.T) {
		tracker := NewConnectionTracker(logger)
		healthy := newStub()
		broken := newStub()
		broken.closeErr = errors.New("boom")
		tracker.Track(healthy)
		tracker.Track(broken)

		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		err := tracker.CloseAll(waitCtx)
		assert.ErrorIs(t, err, broken.closeErr)
		assert.False(t, healthy.IsOpen())
		assert.False(t, broken.IsOpen())
		assert.Equal(t, 0, tracker.Len())
	})
}
