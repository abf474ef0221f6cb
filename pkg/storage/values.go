package storage

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// MemValue is the interned, identity-comparable form of an RDF term.
// Two MemValues from the same ValueFactory are equal iff they are the same
// pointer. Each value keeps back-references to the statements that use it in
// every position.
type MemValue struct {
	value rdf.Value
	key   string

	subjectStatements   statementList
	predicateStatements statementList
	objectStatements    statementList
	contextStatements   statementList
}

// Value returns the RDF term.
func (v *MemValue) Value() rdf.Value { return v.value }

// Kind returns the term kind.
func (v *MemValue) Kind() rdf.Kind { return v.value.Kind() }

func (v *MemValue) String() string { return v.key }

// SubjectCount returns the number of indexed statements using v as subject,
// including deprecated statements not yet reaped.
func (v *MemValue) SubjectCount() int { return v.subjectStatements.Len() }

// PredicateCount is SubjectCount for the predicate position.
func (v *MemValue) PredicateCount() int { return v.predicateStatements.Len() }

// ObjectCount is SubjectCount for the object position.
func (v *MemValue) ObjectCount() int { return v.objectStatements.Len() }

// ContextCount is SubjectCount for the context position.
func (v *MemValue) ContextCount() int { return v.contextStatements.Len() }

// statementList is an append-mostly list of statements.
//
// The mutex only guards the slice header. Cursors copy the header and then
// iterate without locking: appends never touch elements already visible
// through an older header, and compaction only happens while the
// statement-list lock is held exclusively, when no cursor exists.
type statementList struct {
	mu    sync.Mutex
	items []*MemStatement
}

func (l *statementList) add(st *MemStatement) {
	l.mu.Lock()
	l.items = append(l.items, st)
	l.mu.Unlock()
}

func (l *statementList) snapshot() []*MemStatement {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items
}

// Len returns the number of statements in the list.
func (l *statementList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// compact drops every statement for which dead returns true, preserving order.
// The caller must hold the statement-list lock exclusively.
func (l *statementList) compact(dead func(*MemStatement) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.items[:0]
	for _, st := range l.items {
		if !dead(st) {
			kept = append(kept, st)
		}
	}
	removed := len(l.items) - len(kept)
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = nil
	}
	l.items = kept
	return removed
}

// ValueFactory interns RDF terms for one store.
//
// Terms are keyed by their N-Triples form after canonicalization, so
// "1"^^xsd:int and "1" are different values while "a"@EN and "a"@en are the
// same. The table only grows: values stay interned after the last statement
// using them has been reaped.
type ValueFactory struct {
	mu     sync.RWMutex
	values map[string]*MemValue

	bnodePrefix string
	bnodeSeq    atomic.Uint64
}

// NewValueFactory creates an empty factory. Blank nodes minted by
// CreateBNode carry a random per-factory prefix.
func NewValueFactory() *ValueFactory {
	return &ValueFactory{
		values:      make(map[string]*MemValue),
		bnodePrefix: "b" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

// Lookup returns the interned form of v without creating one.
func (f *ValueFactory) Lookup(v rdf.Value) (*MemValue, bool) {
	if v == nil {
		return nil, false
	}
	key := rdf.Canonical(v).String()
	f.mu.RLock()
	mv, ok := f.values[key]
	f.mu.RUnlock()
	return mv, ok
}

// Intern returns the interned form of v, creating it on first use.
// Intern(nil) returns nil.
func (f *ValueFactory) Intern(v rdf.Value) *MemValue {
	if v == nil {
		return nil
	}
	v = rdf.Canonical(v)
	key := v.String()

	f.mu.RLock()
	mv, ok := f.values[key]
	f.mu.RUnlock()
	if ok {
		return mv
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if mv, ok := f.values[key]; ok {
		return mv
	}
	mv = &MemValue{value: v, key: key}
	f.values[key] = mv
	return mv
}

// InternIRI interns an IRI.
func (f *ValueFactory) InternIRI(iri string) *MemValue {
	return f.Intern(rdf.IRI(iri))
}

// InternBNode interns a blank node by label.
func (f *ValueFactory) InternBNode(id string) *MemValue {
	return f.Intern(rdf.BNode(id))
}

// InternLiteral interns a literal. A non-empty lang takes precedence over
// datatype.
func (f *ValueFactory) InternLiteral(label, lang string, datatype rdf.IRI) *MemValue {
	if lang != "" {
		return f.Intern(rdf.NewLangLiteral(label, lang))
	}
	return f.Intern(rdf.NewTypedLiteral(label, datatype))
}

// InternResource interns an IRI or blank node.
func (f *ValueFactory) InternResource(r rdf.Resource) *MemValue {
	if r == nil {
		return nil
	}
	return f.Intern(r)
}

// CreateBNode mints a blank node that is unique within this factory.
func (f *ValueFactory) CreateBNode() rdf.BNode {
	n := f.bnodeSeq.Add(1)
	return rdf.BNode(f.bnodePrefix + "x" + strconv.FormatUint(n, 10))
}

// Len returns the number of interned values.
func (f *ValueFactory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.values)
}
