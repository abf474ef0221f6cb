package rdf

import (
	"errors"
	"fmt"
)

// ErrInvalidPattern is returned for patterns whose bound components have the
// wrong kind of term.
var ErrInvalidPattern = errors.New("rdf: invalid statement pattern")

// Pattern selects statements. A nil Subject, Predicate or Object is a
// wildcard. An empty Contexts slice matches every context; otherwise a
// statement matches when its context is one of Contexts, where a nil entry
// stands for the default graph.
type Pattern struct {
	Subject   Value
	Predicate Value
	Object    Value
	Contexts  []Resource
}

// PatternOf returns the pattern matching exactly st, including its context.
func PatternOf(st Statement) Pattern {
	p := Pattern{Contexts: []Resource{st.Context}}
	if st.Predicate != "" {
		p.Predicate = st.Predicate
	}
	if st.Subject != nil {
		p.Subject = st.Subject
	}
	if st.Object != nil {
		p.Object = st.Object
	}
	return p
}

// Validate checks that the subject is a resource and the predicate an IRI.
func (p Pattern) Validate() error {
	if p.Subject != nil {
		if _, ok := p.Subject.(Resource); !ok {
			return fmt.Errorf("%w: subject %s is not a resource", ErrInvalidPattern, p.Subject)
		}
	}
	if p.Predicate != nil {
		if _, ok := p.Predicate.(IRI); !ok {
			return fmt.Errorf("%w: predicate %s is not an IRI", ErrInvalidPattern, p.Predicate)
		}
	}
	return nil
}

// Matches reports whether st is selected by p.
func (p Pattern) Matches(st Statement) bool {
	if p.Subject != nil && Canonical(p.Subject) != Canonical(st.Subject) {
		return false
	}
	if p.Predicate != nil && p.Predicate != Value(st.Predicate) {
		return false
	}
	if p.Object != nil && Canonical(p.Object) != Canonical(st.Object) {
		return false
	}
	if len(p.Contexts) == 0 {
		return true
	}
	for _, c := range p.Contexts {
		if c == nil && st.Context == nil || c != nil && st.Context != nil && c == st.Context {
			return true
		}
	}
	return false
}

func (p Pattern) String() string {
	term := func(v Value) string {
		if v == nil {
			return "*"
		}
		return v.String()
	}
	s := term(p.Subject) + " " + term(p.Predicate) + " " + term(p.Object)
	for _, c := range p.Contexts {
		if c == nil {
			s += " <default>"
		} else {
			s += " " + c.String()
		}
	}
	return s
}
