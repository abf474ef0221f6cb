// Package storage implements the in-memory, snapshot-isolated quad store.
//
// The store keeps every statement it has ever been asked to hold in an
// append-only index. Each statement carries the range of snapshots in which
// it is visible ([since, till)), so readers never block the single writer and
// never observe a half-applied transaction: a commit stamps its changes with
// the next snapshot number and only then advances the global counter.
//
// Obsolete statements (those whose till is at or below the current snapshot)
// are physically removed by a background cleaner that takes the statement-list
// lock exclusively.
//
// Example Usage:
//
//	store, err := storage.NewMemoryStore(storage.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	if err := store.Initialize(ctx); err != nil {
//		return err
//	}
//	defer store.Shutdown(ctx)
//
//	tx, err := store.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	st := rdf.NewStatement(rdf.IRI("ex:a"), rdf.IRI("ex:b"), rdf.IRI("ex:c"), nil)
//	if _, err := tx.AddStatement(ctx, st, true); err != nil {
//		tx.Rollback()
//		return err
//	}
//	if err := tx.Commit(ctx); err != nil {
//		return err
//	}
//
//	c, err := store.MatchStatements(ctx, rdf.Pattern{Subject: rdf.IRI("ex:a")}, false, sail.Latest)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	for c.Next() {
//		fmt.Println(c.Item())
//	}
//
// # ELI12 (Explain Like I'm 12)
//
// Think of a notebook where you never erase anything. Every line gets a
// "written on page N" stamp, and when it stops being true you add a "crossed
// out on page M" stamp instead of erasing it. Anyone reading "as of page 5"
// just skips lines written later or crossed out earlier. Once nobody can
// read the old pages anymore, a janitor tears out the crossed-out lines.
package storage

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/orneryd/quadstore/pkg/lock"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// Store errors. Failures the caller may retry or report.
var (
	ErrInvalidPattern   = rdf.ErrInvalidPattern
	ErrInvalidStatement = errors.New("storage: invalid statement")
	ErrLockInterrupted  = lock.ErrInterrupted
	ErrSyncFailed       = errors.New("storage: sync failed")
	ErrStoreClosed      = errors.New("storage: store is shut down")
)

// Illegal-state errors. These indicate misuse and are not worth retrying.
var (
	ErrNotInitialized     = errors.New("storage: store not initialized")
	ErrAlreadyInitialized = errors.New("storage: store already initialized")
	ErrNoTransaction      = errors.New("storage: no active transaction")
	ErrTransactionActive  = errors.New("storage: transaction already active")
	ErrTransactionClosed  = errors.New("storage: transaction already closed")
	ErrReadOnly           = errors.New("storage: store is read-only")
	ErrConnectionClosed   = errors.New("storage: connection closed")
)

// IsIllegalState reports whether err is a programming error rather than a
// recoverable store failure.
func IsIllegalState(err error) bool {
	for _, target := range []error{
		ErrNotInitialized,
		ErrAlreadyInitialized,
		ErrNoTransaction,
		ErrTransactionActive,
		ErrTransactionClosed,
		ErrReadOnly,
		ErrConnectionClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Never is the till snapshot of a statement that has not been deprecated.
const Never int64 = math.MaxInt64

// StatementID addresses a statement in the index arena. IDs are never reused.
type StatementID uint64

// TxnStatus is the transaction-scoped state of a statement. It is orthogonal
// to the statement's visibility range.
type TxnStatus uint32

const (
	// TxnNeutral means the active transaction has not touched the statement.
	TxnNeutral TxnStatus = iota
	// TxnNew marks a statement added by the active transaction.
	TxnNew
	// TxnDeprecated marks a committed statement removed by the active
	// transaction. It stays visible until commit.
	TxnDeprecated
	// TxnZombie marks a statement added and then removed by the same
	// transaction. It never becomes visible.
	TxnZombie
	// TxnExplicit marks an inferred statement that becomes explicit at commit.
	TxnExplicit
	// TxnInferred marks an explicit statement that becomes inferred at commit.
	TxnInferred
)

func (s TxnStatus) String() string {
	switch s {
	case TxnNeutral:
		return "neutral"
	case TxnNew:
		return "new"
	case TxnDeprecated:
		return "deprecated"
	case TxnZombie:
		return "zombie"
	case TxnExplicit:
		return "explicit"
	case TxnInferred:
		return "inferred"
	default:
		return "unknown"
	}
}

// ReadMode selects how a statement cursor treats transaction status.
type ReadMode int

const (
	// ReadCommitted shows exactly what is visible at the requested snapshot.
	ReadCommitted ReadMode = iota
	// ReadTransaction shows the active transaction's view at the next
	// snapshot: its own additions, minus its removals.
	ReadTransaction
	// ReadRaw ignores transaction status. Used for duplicate detection.
	ReadRaw
)

// MemStatement is a statement record owned by the StatementIndex.
//
// Components and since are immutable after creation. explicit, till and
// status change while the transaction lock is held and are read
// concurrently by cursors, hence the atomics.
type MemStatement struct {
	id        StatementID
	subject   *MemValue
	predicate *MemValue
	object    *MemValue
	context   *MemValue // nil for the default graph
	since     int64

	till     atomic.Int64
	explicit atomic.Bool
	status   atomic.Uint32
}

func newMemStatement(id StatementID, subj, pred, obj, ctx *MemValue, explicit bool, since int64, status TxnStatus) *MemStatement {
	st := &MemStatement{
		id:        id,
		subject:   subj,
		predicate: pred,
		object:    obj,
		context:   ctx,
		since:     since,
	}
	st.till.Store(Never)
	st.explicit.Store(explicit)
	st.status.Store(uint32(status))
	return st
}

func (st *MemStatement) ID() StatementID      { return st.id }
func (st *MemStatement) Subject() *MemValue   { return st.subject }
func (st *MemStatement) Predicate() *MemValue { return st.predicate }
func (st *MemStatement) Object() *MemValue    { return st.object }
func (st *MemStatement) Context() *MemValue   { return st.context }
func (st *MemStatement) Since() int64         { return st.since }
func (st *MemStatement) Till() int64          { return st.till.Load() }
func (st *MemStatement) Explicit() bool       { return st.explicit.Load() }
func (st *MemStatement) TxnStatus() TxnStatus { return TxnStatus(st.status.Load()) }

func (st *MemStatement) setTill(s int64)           { st.till.Store(s) }
func (st *MemStatement) setExplicit(explicit bool) { st.explicit.Store(explicit) }
func (st *MemStatement) setStatus(s TxnStatus)     { st.status.Store(uint32(s)) }

// IsVisible reports whether the statement is visible at snapshot s.
func (st *MemStatement) IsVisible(s int64) bool {
	return st.since <= s && s < st.till.Load()
}

// Statement returns the plain RDF statement.
func (st *MemStatement) Statement() rdf.Statement {
	out := rdf.Statement{
		Subject:   st.subject.value.(rdf.Resource),
		Predicate: st.predicate.value.(rdf.IRI),
		Object:    st.object.value,
	}
	if st.context != nil {
		out.Context = st.context.value.(rdf.Resource)
	}
	return out
}

func (st *MemStatement) String() string {
	return st.Statement().String()
}

// StoredStatement pairs a statement with its explicit flag. It is the unit
// exchanged with a Syncer.
type StoredStatement struct {
	rdf.Statement
	Explicit bool
}
