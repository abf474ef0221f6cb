// Package storage - Transactions over the multi-version statement index.
//
// # Transaction Semantics
//
// A Transaction holds the store's transaction lock from Begin until Commit or
// Rollback, so there is at most one writer. Changes are applied to the index
// immediately but stamped with the next snapshot number, so readers of the
// current snapshot do not see them. Each touched statement carries a
// transaction status:
//
//	NEUTRAL     untouched (or touched with no net effect)
//	NEW         added by this transaction
//	DEPRECATED  committed statement removed by this transaction
//	ZOMBIE      added and removed by this transaction
//	EXPLICIT    inferred statement becoming explicit
//	INFERRED    explicit statement becoming inferred
//
// The ids of touched statements are kept in a roaring bitmap, which also
// gives commit a deterministic order.
//
// # ELI12 (Explain Like I'm 12)
//
// Imagine writing tomorrow's date on new lines in the class notebook. Nobody
// reading "today" sees them. When you commit, someone turns the
// calendar page and everyone sees them at once. If you roll back, you
// stamp the lines "expired yesterday" so nobody will ever see them.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"

	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/lock"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

// Transaction is the single active writer on a MemoryStore.
//
// A Transaction is meant to be driven by one goroutine. Its methods are
// nevertheless serialized internally, so a mistaken concurrent call cannot
// corrupt the delta set.
type Transaction struct {
	id      uuid.UUID
	store   *MemoryStore
	txnLock lock.Lock
	started time.Time

	mu        sync.Mutex
	closed    bool
	delta     *roaring64.Bitmap
	listeners []sail.ConnectionListener
}

func newTransaction(s *MemoryStore, l lock.Lock) *Transaction {
	tx := &Transaction{
		id:      uuid.New(),
		store:   s,
		txnLock: l,
		started: time.Now(),
		delta:   roaring64.New(),
	}
	s.log.Debug("transaction started", "txn", tx.id, "snapshot", s.CurrentSnapshot())
	return tx
}

// ID uniquely identifies the transaction in logs.
func (tx *Transaction) ID() uuid.UUID { return tx.id }

// IsActive reports whether the transaction has not been committed or rolled back.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return !tx.closed
}

// Touched returns the number of statements the transaction has touched.
func (tx *Transaction) Touched() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return 0
	}
	return int(tx.delta.GetCardinality())
}

// AddListener registers l for statements added or removed by this
// transaction.
func (tx *Transaction) AddListener(l sail.ConnectionListener) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.listeners = append(tx.listeners, l)
}

func (tx *Transaction) checkActive() error {
	if tx.closed {
		return ErrTransactionClosed
	}
	return tx.store.checkOpen()
}

// AddStatement adds st with the given explicit flag and reports whether a
// statement was created. Adding a statement that already exists at the next
// snapshot creates nothing; it may instead change the existing statement's
// transaction status, for example restoring a statement removed earlier in
// the same transaction.
func (tx *Transaction) AddStatement(ctx context.Context, st rdf.Statement, explicit bool) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return false, err
	}
	if st.Subject == nil || st.Predicate == "" || st.Object == nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidStatement, st)
	}

	s := tx.store
	l, err := s.stLock.RLock(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: add statement: %w", err)
	}
	defer l.Release()

	next := s.CurrentSnapshot() + 1
	subj, subjOK := s.values.Lookup(st.Subject)
	pred, predOK := s.values.Lookup(st.Predicate)
	obj, objOK := s.values.Lookup(st.Object)
	graph, graphOK := s.values.Lookup(st.Context)
	if st.Context == nil {
		graphOK = true
	}

	if subjOK && predOK && objOK && graphOK {
		if existing := s.findStatement(subj, pred, obj, graph, next, ReadRaw); existing != nil {
			tx.delta.Add(uint64(existing.id))
			if !tx.readd(existing, explicit) {
				return false, nil
			}
			tx.notify(existing, true)
			return true, nil
		}
	}

	if !subjOK {
		subj = s.values.InternResource(st.Subject)
	}
	if !predOK {
		pred = s.values.Intern(st.Predicate)
	}
	if !objOK {
		obj = s.values.Intern(st.Object)
	}
	if !graphOK {
		graph = s.values.InternResource(st.Context)
	}
	created := s.index.append(subj, pred, obj, graph, explicit, next, TxnNew)
	tx.delta.Add(uint64(created.id))
	tx.notify(created, true)
	return true, nil
}

// readd applies an add to a statement that already exists at the next
// snapshot. It returns true when the statement becomes visible again from
// the transaction's point of view.
func (tx *Transaction) readd(st *MemStatement, explicit bool) bool {
	switch st.TxnStatus() {
	case TxnNeutral:
		if explicit && !st.Explicit() {
			st.setStatus(TxnExplicit)
		}
	case TxnNew:
		if explicit && !st.Explicit() {
			st.setExplicit(true)
		}
	case TxnDeprecated:
		switch {
		case st.Explicit() == explicit:
			st.setStatus(TxnNeutral)
		case explicit:
			st.setStatus(TxnExplicit)
		default:
			st.setStatus(TxnInferred)
		}
		return true
	case TxnInferred:
		if explicit && st.Explicit() {
			st.setStatus(TxnNeutral)
		}
	case TxnZombie:
		st.setExplicit(explicit)
		st.setStatus(TxnNew)
		return true
	}
	return false
}

// RemoveStatements removes the statements matching p whose explicit flag
// equals explicit, as seen by this transaction. It returns the number of
// statements whose visibility changed.
func (tx *Transaction) RemoveStatements(ctx context.Context, p rdf.Pattern, explicit bool) (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return 0, err
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	s := tx.store
	l, err := s.stLock.RLock(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: remove statements: %w", err)
	}
	defer l.Release()

	rp, ok := s.resolve(p)
	if !ok {
		return 0, nil
	}
	c := s.newStatementCursor(rp, explicit, s.CurrentSnapshot()+1, ReadTransaction)
	defer c.Close()

	removed := 0
	for c.Next() {
		st := c.Item()
		tx.delta.Add(uint64(st.id))
		if tx.remove(st, explicit) {
			removed++
			tx.notify(st, false)
		}
	}
	return removed, nil
}

// remove applies a removal to st and reports whether it changed the
// statement's visibility.
func (tx *Transaction) remove(st *MemStatement, explicit bool) bool {
	switch st.TxnStatus() {
	case TxnNeutral:
		if st.Explicit() == explicit {
			st.setStatus(TxnDeprecated)
			return true
		}
	case TxnNew:
		if st.Explicit() == explicit {
			st.setStatus(TxnZombie)
			return true
		}
	case TxnInferred:
		if st.Explicit() && !explicit {
			st.setStatus(TxnDeprecated)
			return true
		}
	case TxnExplicit:
		// Undo the pending upgrade; the inferred statement stays.
		if !st.Explicit() && explicit {
			st.setStatus(TxnNeutral)
		}
	}
	return false
}

func (tx *Transaction) notify(st *MemStatement, added bool) {
	if len(tx.listeners) == 0 {
		return
	}
	plain := st.Statement()
	for _, l := range tx.listeners {
		if added {
			l.StatementAdded(plain)
		} else {
			l.StatementRemoved(plain)
		}
	}
}

// Match returns statements matching p as this transaction sees them: its own
// additions included, its removals excluded. The cursor must be closed
// before the transaction ends.
func (tx *Transaction) Match(ctx context.Context, p rdf.Pattern, explicitOnly bool) (cursor.Cursor[*MemStatement], error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	s := tx.store
	return s.match(ctx, p, explicitOnly, s.CurrentSnapshot()+1, ReadTransaction)
}

// Commit makes the transaction's changes visible at the next snapshot.
//
// Commit first waits for the shared statement-list lock; if ctx ends during
// that wait nothing is applied and the transaction stays active.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return err
	}

	s := tx.store
	l, err := s.stLock.RLock(ctx)
	if err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}

	txnSnapshot := s.CurrentSnapshot() + 1
	var added, removed, zombies, flipped int
	it := tx.delta.Iterator()
	for it.HasNext() {
		id := StatementID(it.Next())
		st, ok := s.index.Get(id)
		if !ok {
			continue
		}
		switch status := st.TxnStatus(); status {
		case TxnNeutral:
			continue
		case TxnNew:
			added++
		case TxnDeprecated:
			s.index.Deprecate(id, txnSnapshot)
			removed++
		case TxnZombie:
			s.index.Deprecate(id, txnSnapshot)
			zombies++
		case TxnExplicit, TxnInferred:
			s.index.Deprecate(id, txnSnapshot)
			s.index.Append(st.subject, st.predicate, st.object, st.context, status == TxnExplicit, txnSnapshot)
			flipped++
		}
		st.setStatus(TxnNeutral)
	}

	changed := added+removed+zombies+flipped > 0
	if changed {
		// Last step: readers switch to the new snapshot only now.
		s.snapshot.Store(txnSnapshot)
	}
	l.Release()
	tx.finish()

	s.metrics.Commits.Inc()
	s.metrics.StatementsAdded.Add(float64(added))
	s.metrics.StatementsRemoved.Add(float64(removed))
	s.metrics.Snapshot.Set(float64(s.CurrentSnapshot()))
	s.metrics.IndexedStatements.Set(float64(s.index.Len()))
	s.log.Debug("transaction committed",
		"txn", tx.id,
		"snapshot", s.CurrentSnapshot(),
		"added", added,
		"removed", removed,
		"zombies", zombies,
		"flipped", flipped,
		"duration", time.Since(tx.started))

	if removed+zombies+flipped > 0 {
		s.scheduleCleanup()
	}
	if added+removed+flipped > 0 {
		s.contentsChanged.Store(true)
		s.scheduleSync()
		s.notifyStoreChanged(ChangeEvent{
			Snapshot:          txnSnapshot,
			StatementsAdded:   added+flipped > 0,
			StatementsRemoved: removed+flipped > 0,
		})
	}
	return nil
}

// Rollback discards the transaction's changes. Statements it created are
// expired at the current snapshot, so they never become visible, and are
// left for cleanup to reap.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTransactionClosed
	}

	s := tx.store
	current := s.CurrentSnapshot()
	expired := 0
	it := tx.delta.Iterator()
	for it.HasNext() {
		id := StatementID(it.Next())
		st, ok := s.index.Get(id)
		if !ok {
			continue
		}
		switch st.TxnStatus() {
		case TxnNew, TxnZombie:
			s.index.Deprecate(id, current)
			expired++
		}
		st.setStatus(TxnNeutral)
	}
	tx.finish()

	s.metrics.Rollbacks.Inc()
	s.log.Debug("transaction rolled back", "txn", tx.id, "expired", expired, "duration", time.Since(tx.started))
	if expired > 0 {
		s.scheduleCleanup()
	}
	return nil
}

func (tx *Transaction) finish() {
	tx.closed = true
	tx.delta = nil
	tx.listeners = nil
	tx.txnLock.Release()
}
