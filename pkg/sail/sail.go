// Package sail defines the storage abstraction consumed by query evaluators,
// inferencers and tools, plus composable connection decorators.
//
// A Sail is a store with a lifecycle (Initialize, Shutdown). Work happens
// through Connections: a connection runs at most one transaction at a time
// and exposes pattern matching, statement mutation and namespace management.
// Decorators wrap a Connection by composition: ConnectionWrapper forwards
// every call, and types embedding it override only what they change.
//
// Example Usage:
//
//	conn, err := store.Connection()
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.Begin(ctx); err != nil {
//		return err
//	}
//	if _, err := conn.AddStatement(ctx, st, true); err != nil {
//		conn.Rollback(ctx)
//		return err
//	}
//	return conn.Commit(ctx)
package sail

import (
	"context"

	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// Latest selects the current snapshot wherever a snapshot number is expected.
const Latest int64 = -1

// Sail is a quad store with an explicit lifecycle.
type Sail interface {
	// Initialize prepares the store for use. It is called exactly once.
	Initialize(ctx context.Context) error
	// Shutdown closes open connections and cursors and releases resources.
	// ctx bounds how long it waits for them to finish on their own.
	Shutdown(ctx context.Context) error
	// IsWritable reports whether transactions may be started.
	IsWritable() bool
	// Connection opens a new connection.
	Connection() (InferencerConnection, error)
}

// ConnectionListener is notified of statements added or removed through a
// connection, as they happen inside a transaction.
type ConnectionListener interface {
	StatementAdded(st rdf.Statement)
	StatementRemoved(st rdf.Statement)
}

// Connection is a session against a Sail.
//
// Methods that mutate statements require an active transaction
// (Begin ... Commit/Rollback). Reads outside a transaction see the committed
// state at the requested snapshot; reads inside one see the transaction's own
// changes.
type Connection interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsActive() bool

	// AddStatement adds st with the given explicit flag. It reports whether
	// a new statement was created rather than an existing one reused.
	AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (bool, error)
	// RemoveStatements removes statements matching p whose explicit flag
	// equals explicit. It returns how many statements changed visibility.
	RemoveStatements(ctx context.Context, p rdf.Pattern, explicit bool) (int, error)
	// MatchStatements returns statements matching p at snapshot, or at the
	// current snapshot when snapshot is Latest.
	MatchStatements(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[rdf.Statement], error)
	// ContextIDs returns the distinct named contexts holding explicit statements.
	ContextIDs(ctx context.Context) (cursor.Cursor[rdf.Resource], error)
	// Size counts explicit statements, optionally restricted to contexts.
	Size(ctx context.Context, contexts ...rdf.Resource) (int, error)
	CurrentSnapshot() int64

	SetNamespace(ctx context.Context, prefix, name string) error
	Namespace(prefix string) (string, bool)
	RemoveNamespace(ctx context.Context, prefix string) error
	ClearNamespaces(ctx context.Context) error
	Namespaces() []rdf.Namespace

	// AddConnectionListener registers l and returns a function that
	// unregisters it. RemoveConnectionListener unregisters by value, which
	// only works for comparable listeners.
	AddConnectionListener(l ConnectionListener) (remove func())
	RemoveConnectionListener(l ConnectionListener)

	// Close rolls back an active transaction and releases the connection.
	Close() error
	IsOpen() bool
}

// InferencerConnection adds the hooks an inferencer uses to maintain derived
// statements without promoting them to explicit status.
type InferencerConnection interface {
	Connection

	AddInferredStatement(ctx context.Context, st rdf.Statement) (bool, error)
	RemoveInferredStatements(ctx context.Context, p rdf.Pattern) (int, error)
	// FlushUpdates is the point at which an inferencer applies pending
	// derivations. Stores without buffered inference treat it as a no-op.
	FlushUpdates(ctx context.Context) error
}
