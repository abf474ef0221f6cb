package sail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ConnectionTracker records open connections so a store can drain them on
// shutdown: it waits for callers to close their connections and force-closes
// whatever is left when the wait ends.
type ConnectionTracker struct {
	log *slog.Logger

	mu    sync.Mutex
	conns map[*TrackedConnection]struct{}
	// drained is closed when conns becomes empty while someone waits.
	drained chan struct{}
}

// NewConnectionTracker returns an empty tracker. A nil logger uses
// slog.Default.
func NewConnectionTracker(logger *slog.Logger) *ConnectionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionTracker{
		log:   logger.With("component", "connection-tracker"),
		conns: make(map[*TrackedConnection]struct{}),
	}
}

// Track wraps c so that closing it removes it from the tracker.
func (t *ConnectionTracker) Track(c InferencerConnection) *TrackedConnection {
	tc := &TrackedConnection{ConnectionWrapper: ConnectionWrapper{Delegate: c}, tracker: t}
	t.mu.Lock()
	t.conns[tc] = struct{}{}
	t.mu.Unlock()
	return tc
}

// Len returns the number of open tracked connections.
func (t *ConnectionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *ConnectionTracker) untrack(tc *TrackedConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, tc)
	if len(t.conns) == 0 && t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

// CloseAll waits until every tracked connection has been closed or ctx ends,
// then closes the remaining connections itself and logs a warning for each.
// It returns the joined close errors of the forced connections.
func (t *ConnectionTracker) CloseAll(ctx context.Context) error {
	t.mu.Lock()
	if len(t.conns) == 0 {
		t.mu.Unlock()
		return nil
	}
	if t.drained == nil {
		t.drained = make(chan struct{})
	}
	drained := t.drained
	t.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	remaining := make([]*TrackedConnection, 0, len(t.conns))
	for tc := range t.conns {
		remaining = append(remaining, tc)
	}
	t.mu.Unlock()

	var errs []error
	for _, tc := range remaining {
		t.log.Warn("closing connection that was not closed by its owner", "active_transaction", tc.IsActive())
		if err := tc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TrackedConnection is a connection registered with a ConnectionTracker.
type TrackedConnection struct {
	ConnectionWrapper
	tracker *ConnectionTracker
	once    sync.Once
}

// Close closes the delegate and unregisters the connection.
func (c *TrackedConnection) Close() error {
	err := c.Delegate.Close()
	c.once.Do(func() { c.tracker.untrack(c) })
	return err
}
