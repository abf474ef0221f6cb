package sail

import (
	"context"
	"sync"

	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// ConnectionWrapper forwards every call to Delegate. Embed it and override
// the methods a decorator needs to change.
type ConnectionWrapper struct {
	Delegate InferencerConnection
}

var _ InferencerConnection = (*ConnectionWrapper)(nil)

func (w *ConnectionWrapper) Begin(ctx context.Context) error    { return w.Delegate.Begin(ctx) }
func (w *ConnectionWrapper) Commit(ctx context.Context) error   { return w.Delegate.Commit(ctx) }
func (w *ConnectionWrapper) Rollback(ctx context.Context) error { return w.Delegate.Rollback(ctx) }
func (w *ConnectionWrapper) IsActive() bool                     { return w.Delegate.IsActive() }

func (w *ConnectionWrapper) AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (bool, error) {
	return w.Delegate.AddStatement(ctx, st, explicit)
}

func (w *ConnectionWrapper) RemoveStatements(ctx context.Context, p rdf.Pattern, explicit bool) (int, error) {
	return w.Delegate.RemoveStatements(ctx, p, explicit)
}

func (w *ConnectionWrapper) MatchStatements(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[rdf.Statement], error) {
	return w.Delegate.MatchStatements(ctx, p, explicitOnly, snapshot)
}

func (w *ConnectionWrapper) ContextIDs(ctx context.Context) (cursor.Cursor[rdf.Resource], error) {
	return w.Delegate.ContextIDs(ctx)
}

func (w *ConnectionWrapper) Size(ctx context.Context, contexts ...rdf.Resource) (int, error) {
	return w.Delegate.Size(ctx, contexts...)
}

func (w *ConnectionWrapper) CurrentSnapshot() int64 { return w.Delegate.CurrentSnapshot() }

func (w *ConnectionWrapper) SetNamespace(ctx context.Context, prefix, name string) error {
	return w.Delegate.SetNamespace(ctx, prefix, name)
}

func (w *ConnectionWrapper) Namespace(prefix string) (string, bool) {
	return w.Delegate.Namespace(prefix)
}

func (w *ConnectionWrapper) RemoveNamespace(ctx context.Context, prefix string) error {
	return w.Delegate.RemoveNamespace(ctx, prefix)
}

func (w *ConnectionWrapper) ClearNamespaces(ctx context.Context) error {
	return w.Delegate.ClearNamespaces(ctx)
}

func (w *ConnectionWrapper) Namespaces() []rdf.Namespace { return w.Delegate.Namespaces() }

func (w *ConnectionWrapper) AddConnectionListener(l ConnectionListener) func() {
	return w.Delegate.AddConnectionListener(l)
}

func (w *ConnectionWrapper) RemoveConnectionListener(l ConnectionListener) {
	w.Delegate.RemoveConnectionListener(l)
}

func (w *ConnectionWrapper) Close() error { return w.Delegate.Close() }
func (w *ConnectionWrapper) IsOpen() bool { return w.Delegate.IsOpen() }

func (w *ConnectionWrapper) AddInferredStatement(ctx context.Context, st rdf.Statement) (bool, error) {
	return w.Delegate.AddInferredStatement(ctx, st)
}

func (w *ConnectionWrapper) RemoveInferredStatements(ctx context.Context, p rdf.Pattern) (int, error) {
	return w.Delegate.RemoveInferredStatements(ctx, p)
}

func (w *ConnectionWrapper) FlushUpdates(ctx context.Context) error {
	return w.Delegate.FlushUpdates(ctx)
}

// SynchronizedConnection makes a connection safe for use from several
// goroutines, such as an inferencer running alongside the caller that owns
// the transaction.
//
// Two locks are involved. The connection lock is shared by every operation
// and taken exclusively by Close, so a connection is never closed under a
// running call. The update lock serializes operations that touch the
// transaction or its statements.
type SynchronizedConnection struct {
	ConnectionWrapper

	connMu   sync.RWMutex
	updateMu sync.Mutex
}

// Synchronize wraps c.
func Synchronize(c InferencerConnection) *SynchronizedConnection {
	return &SynchronizedConnection{ConnectionWrapper: ConnectionWrapper{Delegate: c}}
}

func (s *SynchronizedConnection) update(fn func() error) error {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return fn()
}

func (s *SynchronizedConnection) read(fn func() error) error {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return fn()
}

func (s *SynchronizedConnection) Begin(ctx context.Context) error {
	return s.update(func() error { return s.Delegate.Begin(ctx) })
}

func (s *SynchronizedConnection) Commit(ctx context.Context) error {
	return s.update(func() error { return s.Delegate.Commit(ctx) })
}

func (s *SynchronizedConnection) Rollback(ctx context.Context) error {
	return s.update(func() error { return s.Delegate.Rollback(ctx) })
}

func (s *SynchronizedConnection) AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (added bool, err error) {
	err = s.update(func() error {
		added, err = s.Delegate.AddStatement(ctx, st, explicit)
		return err
	})
	return added, err
}

func (s *SynchronizedConnection) RemoveStatements(ctx context.Context, p rdf.Pattern, explicit bool) (n int, err error) {
	err = s.update(func() error {
		n, err = s.Delegate.RemoveStatements(ctx, p, explicit)
		return err
	})
	return n, err
}

func (s *SynchronizedConnection) AddInferredStatement(ctx context.Context, st rdf.Statement) (added bool, err error) {
	err = s.update(func() error {
		added, err = s.Delegate.AddInferredStatement(ctx, st)
		return err
	})
	return added, err
}

func (s *SynchronizedConnection) RemoveInferredStatements(ctx context.Context, p rdf.Pattern) (n int, err error) {
	err = s.update(func() error {
		n, err = s.Delegate.RemoveInferredStatements(ctx, p)
		return err
	})
	return n, err
}

func (s *SynchronizedConnection) FlushUpdates(ctx context.Context) error {
	return s.update(func() error { return s.Delegate.FlushUpdates(ctx) })
}

func (s *SynchronizedConnection) MatchStatements(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (c cursor.Cursor[rdf.Statement], err error) {
	err = s.read(func() error {
		c, err = s.Delegate.MatchStatements(ctx, p, explicitOnly, snapshot)
		return err
	})
	return c, err
}

func (s *SynchronizedConnection) Size(ctx context.Context, contexts ...rdf.Resource) (n int, err error) {
	err = s.read(func() error {
		n, err = s.Delegate.Size(ctx, contexts...)
		return err
	})
	return n, err
}

// Close waits for running calls, then closes the delegate.
func (s *SynchronizedConnection) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.Delegate.Close()
}
