package storage

import (
	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// resolvedPattern is an rdf.Pattern translated to interned values.
type resolvedPattern struct {
	subject, predicate, object *MemValue
	// contexts is nil when any context matches. Otherwise it holds the
	// allowed contexts, where a nil element stands for the default graph.
	contexts []*MemValue
}

// resolve interns nothing: ok is false when a bound component is unknown to
// the factory, in which case nothing can match.
func (s *MemoryStore) resolve(p rdf.Pattern) (rp resolvedPattern, ok bool) {
	lookup := func(v rdf.Value) (*MemValue, bool) {
		if v == nil {
			return nil, true
		}
		return s.values.Lookup(v)
	}
	if rp.subject, ok = lookup(p.Subject); !ok {
		return rp, false
	}
	if rp.predicate, ok = lookup(p.Predicate); !ok {
		return rp, false
	}
	if rp.object, ok = lookup(p.Object); !ok {
		return rp, false
	}
	if len(p.Contexts) == 0 {
		return rp, true
	}
	seen := make(map[*MemValue]bool, len(p.Contexts))
	for _, c := range p.Contexts {
		var mc *MemValue
		if c != nil {
			var known bool
			if mc, known = s.values.Lookup(c); !known {
				continue
			}
		}
		if !seen[mc] {
			seen[mc] = true
			rp.contexts = append(rp.contexts, mc)
		}
	}
	return rp, len(rp.contexts) > 0
}

// candidates picks the cheapest list to scan for rp: the shortest of the
// lists addressed by bound components, falling back to the primary list.
// When only named contexts are requested their lists are scanned back to
// back, since every statement lives in exactly one context list.
func (s *MemoryStore) candidates(rp resolvedPattern) [][]*MemStatement {
	best := [][]*MemStatement{s.index.Statements()}
	bestLen := len(best[0])

	consider := func(lists ...[]*MemStatement) {
		n := 0
		for _, l := range lists {
			n += len(l)
		}
		if n < bestLen {
			best, bestLen = lists, n
		}
	}

	if rp.subject != nil {
		consider(rp.subject.subjectStatements.snapshot())
	}
	if rp.predicate != nil {
		consider(rp.predicate.predicateStatements.snapshot())
	}
	if rp.object != nil {
		consider(rp.object.objectStatements.snapshot())
	}
	if len(rp.contexts) > 0 {
		lists := make([][]*MemStatement, 0, len(rp.contexts))
		named := true
		for _, c := range rp.contexts {
			if c == nil {
				named = false
				break
			}
			lists = append(lists, c.contextStatements.snapshot())
		}
		if named {
			consider(lists...)
		}
	}
	return best
}

// newStatementCursor returns an unlocked cursor over statements matching rp.
// The caller must hold the statement-list lock for the cursor's lifetime.
func (s *MemoryStore) newStatementCursor(rp resolvedPattern, explicitOnly bool, snapshot int64, mode ReadMode) *statementCursor {
	return &statementCursor{
		lists:        s.candidates(rp),
		pattern:      rp,
		explicitOnly: explicitOnly,
		snapshot:     snapshot,
		mode:         mode,
	}
}

// statementCursor lazily filters candidate lists. Visibility is evaluated
// per statement, so concurrent commits never change what a cursor opened at
// a fixed snapshot yields.
type statementCursor struct {
	lists        [][]*MemStatement
	pattern      resolvedPattern
	explicitOnly bool
	snapshot     int64
	mode         ReadMode

	list, pos int
	current   *MemStatement
	closed    bool
}

var _ cursor.Cursor[*MemStatement] = (*statementCursor)(nil)

func (c *statementCursor) Next() bool {
	if c.closed {
		return false
	}
	for c.list < len(c.lists) {
		items := c.lists[c.list]
		for c.pos < len(items) {
			st := items[c.pos]
			c.pos++
			if c.accept(st) {
				c.current = st
				return true
			}
		}
		c.list++
		c.pos = 0
	}
	c.current = nil
	return false
}

func (c *statementCursor) accept(st *MemStatement) bool {
	if !st.IsVisible(c.snapshot) {
		return false
	}
	status := st.TxnStatus()
	switch c.mode {
	case ReadCommitted:
		if status == TxnNew || status == TxnZombie {
			return false
		}
	case ReadTransaction:
		if status == TxnDeprecated || status == TxnZombie {
			return false
		}
	}
	if c.explicitOnly && !c.effectiveExplicit(st, status) {
		return false
	}
	p := c.pattern
	if p.subject != nil && st.subject != p.subject ||
		p.predicate != nil && st.predicate != p.predicate ||
		p.object != nil && st.object != p.object {
		return false
	}
	if p.contexts != nil {
		for _, ctx := range p.contexts {
			if st.context == ctx {
				return true
			}
		}
		return false
	}
	return true
}

// effectiveExplicit applies a pending explicit/inferred flip in the
// transaction view.
func (c *statementCursor) effectiveExplicit(st *MemStatement, status TxnStatus) bool {
	if c.mode == ReadTransaction {
		switch status {
		case TxnExplicit:
			return true
		case TxnInferred:
			return false
		}
	}
	return st.Explicit()
}

func (c *statementCursor) Item() *MemStatement { return c.current }
func (c *statementCursor) Err() error          { return nil }

func (c *statementCursor) Close() error {
	c.closed = true
	c.current = nil
	c.lists = nil
	return nil
}
