package storage

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// StatementIndex owns every statement record in the store.
//
// It keeps an arena of statements addressed by StatementID, the primary list
// of all statements in insertion order, and links each statement into the
// per-value lists of its subject, predicate, object and (non-nil) context.
//
// Invariant: until reaped, a statement appears exactly once in the primary
// list and exactly once in each secondary list of its components.
//
// Append may run concurrently with readers. Reap rewrites lists in place and
// must only be called while the statement-list lock is held exclusively.
type StatementIndex struct {
	mu     sync.RWMutex
	arena  map[StatementID]*MemStatement
	nextID StatementID
	// deprecated counts statements with a finite till that are not reaped.
	deprecated int

	all statementList
}

// NewStatementIndex returns an empty index.
func NewStatementIndex() *StatementIndex {
	return &StatementIndex{arena: make(map[StatementID]*MemStatement)}
}

// Append creates a statement visible from snapshot onward and links it into
// the primary list and the four secondary lists.
func (x *StatementIndex) Append(subj, pred, obj, ctx *MemValue, explicit bool, snapshot int64) StatementID {
	return x.append(subj, pred, obj, ctx, explicit, snapshot, TxnNeutral).id
}

func (x *StatementIndex) append(subj, pred, obj, ctx *MemValue, explicit bool, snapshot int64, status TxnStatus) *MemStatement {
	x.mu.Lock()
	x.nextID++
	st := newMemStatement(x.nextID, subj, pred, obj, ctx, explicit, snapshot, status)
	x.arena[st.id] = st
	x.mu.Unlock()

	x.all.add(st)
	subj.subjectStatements.add(st)
	pred.predicateStatements.add(st)
	obj.objectStatements.add(st)
	if ctx != nil {
		ctx.contextStatements.add(st)
	}
	return st
}

// Get returns the statement with the given id, if it has not been reaped.
func (x *StatementIndex) Get(id StatementID) (*MemStatement, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	st, ok := x.arena[id]
	return st, ok
}

// Deprecate sets the statement's upper visibility bound. The statement stays
// linked until reaped.
func (x *StatementIndex) Deprecate(id StatementID, till int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	st, ok := x.arena[id]
	if !ok {
		return false
	}
	if st.Till() == Never {
		x.deprecated++
	}
	st.setTill(till)
	return true
}

// Deprecated returns how many statements have been deprecated but not reaped.
func (x *StatementIndex) Deprecated() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.deprecated
}

// Reap physically removes the given statements from every list and from the
// arena, returning how many were removed. Each affected list is compacted
// once per call.
func (x *StatementIndex) Reap(ids ...StatementID) int {
	if len(ids) == 0 {
		return 0
	}
	dead := roaring64.New()
	lists := make(map[*statementList]struct{})

	x.mu.Lock()
	for _, id := range ids {
		st, ok := x.arena[id]
		if !ok {
			continue
		}
		dead.Add(uint64(id))
		delete(x.arena, id)
		if st.Till() != Never {
			x.deprecated--
		}
		lists[&st.subject.subjectStatements] = struct{}{}
		lists[&st.predicate.predicateStatements] = struct{}{}
		lists[&st.object.objectStatements] = struct{}{}
		if st.context != nil {
			lists[&st.context.contextStatements] = struct{}{}
		}
	}
	x.mu.Unlock()

	if dead.IsEmpty() {
		return 0
	}
	isDead := func(st *MemStatement) bool { return dead.Contains(uint64(st.id)) }
	for l := range lists {
		l.compact(isDead)
	}
	return x.all.compact(isDead)
}

// Len returns the number of statements in the index, including deprecated
// statements that have not been reaped yet.
func (x *StatementIndex) Len() int {
	return x.all.Len()
}

// Statements returns the primary list as of now. The caller must hold the
// statement-list lock (shared is enough) while using the result.
func (x *StatementIndex) Statements() []*MemStatement {
	return x.all.snapshot()
}
