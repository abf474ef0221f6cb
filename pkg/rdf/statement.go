package rdf

import "strings"

// Statement is a triple, or a quad when Context is non-nil.
//
// A nil Context denotes the default (unnamed) graph.
type Statement struct {
	Subject   Resource
	Predicate IRI
	Object    Value
	Context   Resource
}

// NewStatement builds a statement from its four components.
func NewStatement(subj Resource, pred IRI, obj Value, ctx Resource) Statement {
	return Statement{Subject: subj, Predicate: pred, Object: obj, Context: ctx}
}

// Triple returns the statement without its context.
func (s Statement) Triple() Statement {
	s.Context = nil
	return s
}

// String returns the N-Quads line for the statement, without a trailing newline.
func (s Statement) String() string {
	var sb strings.Builder
	sb.WriteString(termString(s.Subject))
	sb.WriteByte(' ')
	sb.WriteString(s.Predicate.String())
	sb.WriteByte(' ')
	sb.WriteString(termString(s.Object))
	if s.Context != nil {
		sb.WriteByte(' ')
		sb.WriteString(s.Context.String())
	}
	sb.WriteString(" .")
	return sb.String()
}

func termString(v Value) string {
	if v == nil {
		return "<>"
	}
	return v.String()
}
