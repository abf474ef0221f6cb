package storage

import (
	"context"
	"sync"

	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

// MemoryConnection is a session on a MemoryStore. It runs at most one
// transaction at a time. Reads made while a transaction is active at the
// latest snapshot see the transaction's own changes.
//
// MemoryConnection itself is not safe for concurrent use; MemoryStore.Connection
// wraps it in a sail.SynchronizedConnection.
type MemoryConnection struct {
	store *MemoryStore

	mu   sync.Mutex
	open bool
	txn  *Transaction

	listeners listenerSet[sail.ConnectionListener]
}

var _ sail.InferencerConnection = (*MemoryConnection)(nil)

func newMemoryConnection(s *MemoryStore) *MemoryConnection {
	return &MemoryConnection{store: s, open: true}
}

func (c *MemoryConnection) checkOpen() error {
	if !c.open {
		return ErrConnectionClosed
	}
	return c.store.checkOpen()
}

func (c *MemoryConnection) activeTxn() (*Transaction, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.txn == nil {
		return nil, ErrNoTransaction
	}
	return c.txn, nil
}

// Begin starts a transaction, waiting for any other connection's transaction
// to finish.
func (c *MemoryConnection) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.txn != nil {
		return ErrTransactionActive
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	tx.AddListener(connectionFanout{c})
	c.txn = tx
	return nil
}

// Commit commits the active transaction.
func (c *MemoryConnection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.activeTxn()
	if err != nil {
		return err
	}
	err = tx.Commit(ctx)
	if !tx.IsActive() {
		c.txn = nil
	}
	return err
}

// Rollback discards the active transaction.
func (c *MemoryConnection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn == nil {
		return ErrNoTransaction
	}
	err := c.txn.Rollback()
	c.txn = nil
	return err
}

// IsActive reports whether a transaction is active.
func (c *MemoryConnection) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txn != nil
}

func (c *MemoryConnection) AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.activeTxn()
	if err != nil {
		return false, err
	}
	return tx.AddStatement(ctx, st, explicit)
}

func (c *MemoryConnection) RemoveStatements(ctx context.Context, p rdf.Pattern, explicit bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.activeTxn()
	if err != nil {
		return 0, err
	}
	return tx.RemoveStatements(ctx, p, explicit)
}

func (c *MemoryConnection) AddInferredStatement(ctx context.Context, st rdf.Statement) (bool, error) {
	return c.AddStatement(ctx, st, false)
}

func (c *MemoryConnection) RemoveInferredStatements(ctx context.Context, p rdf.Pattern) (int, error) {
	return c.RemoveStatements(ctx, p, false)
}

// FlushUpdates has nothing to flush: every change is applied to the index as
// it is made.
func (c *MemoryConnection) FlushUpdates(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.activeTxn()
	return err
}

// MatchStatements returns matching statements. With an active transaction
// and snapshot sail.Latest, the transaction's view is used.
func (c *MemoryConnection) MatchStatements(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[rdf.Statement], error) {
	mc, err := c.match(ctx, p, explicitOnly, snapshot)
	if err != nil {
		return nil, err
	}
	return cursor.Map(mc, (*MemStatement).Statement), nil
}

func (c *MemoryConnection) match(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[*MemStatement], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.txn != nil && snapshot < 0 {
		return c.txn.Match(ctx, p, explicitOnly)
	}
	return c.store.Match(ctx, p, explicitOnly, snapshot)
}

// ContextIDs returns the distinct named contexts of explicit statements.
func (c *MemoryConnection) ContextIDs(ctx context.Context) (cursor.Cursor[rdf.Resource], error) {
	sc, err := c.MatchStatements(ctx, rdf.Pattern{}, true, sail.Latest)
	if err != nil {
		return nil, err
	}
	contexts := cursor.Map(cursor.NamedContexts(sc), func(st rdf.Statement) rdf.Resource {
		return st.Context
	})
	return cursor.Distinct(contexts), nil
}

// Size counts explicit statements in the connection's view.
func (c *MemoryConnection) Size(ctx context.Context, contexts ...rdf.Resource) (int, error) {
	mc, err := c.match(ctx, rdf.Pattern{Contexts: contexts}, true, sail.Latest)
	if err != nil {
		return 0, err
	}
	return cursor.Count(mc)
}

func (c *MemoryConnection) CurrentSnapshot() int64 {
	return c.store.CurrentSnapshot()
}

func (c *MemoryConnection) SetNamespace(ctx context.Context, prefix, name string) error {
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	return c.store.SetNamespace(prefix, name)
}

func (c *MemoryConnection) Namespace(prefix string) (string, bool) {
	return c.store.Namespace(prefix)
}

func (c *MemoryConnection) RemoveNamespace(ctx context.Context, prefix string) error {
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	return c.store.RemoveNamespace(prefix)
}

func (c *MemoryConnection) ClearNamespaces(ctx context.Context) error {
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	return c.store.ClearNamespaces()
}

func (c *MemoryConnection) Namespaces() []rdf.Namespace {
	return c.store.Namespaces()
}

func (c *MemoryConnection) checkOpenLocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkOpen()
}

// AddConnectionListener registers l for statements added and removed through
// this connection and returns a function that unregisters it.
func (c *MemoryConnection) AddConnectionListener(l sail.ConnectionListener) (remove func()) {
	return c.listeners.add(l)
}

// RemoveConnectionListener unregisters the first registration equal to l.
// Uncomparable listeners are only removed through the function returned by
// AddConnectionListener.
func (c *MemoryConnection) RemoveConnectionListener(l sail.ConnectionListener) {
	c.listeners.remove(l)
}

// Close rolls back an active transaction and closes the connection.
func (c *MemoryConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	if c.txn == nil {
		return nil
	}
	c.store.log.Warn("rolling back transaction of closed connection", "txn", c.txn.ID())
	err := c.txn.Rollback()
	c.txn = nil
	return err
}

func (c *MemoryConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// connectionFanout forwards a transaction's notifications to the listeners
// registered on the connection at the time of each event.
type connectionFanout struct{ c *MemoryConnection }

func (f connectionFanout) StatementAdded(st rdf.Statement) {
	for _, l := range f.c.listeners.list() {
		l.StatementAdded(st)
	}
}

func (f connectionFanout) StatementRemoved(st rdf.Statement) {
	for _, l := range f.c.listeners.list() {
		l.StatementRemoved(st)
	}
}
