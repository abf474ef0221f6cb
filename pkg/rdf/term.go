// Package rdf provides the RDF term model used throughout quadstore.
//
// Terms are small immutable values: IRI and BNode are string types and
// Literal is a struct of strings, so every term (and every Statement built
// from them) is comparable with == and usable as a map key.
//
// Example Usage:
//
//	st := rdf.Statement{
//		Subject:   rdf.IRI("http://example.org/alice"),
//		Predicate: rdf.IRI("http://xmlns.com/foaf/0.1/name"),
//		Object:    rdf.NewLangLiteral("Alice", "en"),
//	}
//	fmt.Println(st) // <http://example.org/alice> <http://xmlns.com/foaf/0.1/name> "Alice"@en .
package rdf

import (
	"strings"
)

// Well-known vocabulary.
const (
	XSDNamespace = "http://www.w3.org/2001/XMLSchema#"
	RDFNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

	XSDString  IRI = XSDNamespace + "string"
	XSDInteger IRI = XSDNamespace + "integer"
	XSDBoolean IRI = XSDNamespace + "boolean"
	XSDDouble  IRI = XSDNamespace + "double"

	RDFType       IRI = RDFNamespace + "type"
	RDFLangString IRI = RDFNamespace + "langString"
)

// Kind identifies the type of an RDF term.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBNode
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBNode:
		return "bnode"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Value is any RDF term.
//
// String returns the N-Triples representation of the term. Two terms are the
// same RDF term exactly when their String forms are equal.
type Value interface {
	Kind() Kind
	String() string
}

// Resource is a term that may appear in subject or context position.
// Only IRI and BNode implement it.
type Resource interface {
	Value
	isResource()
}

// IRI is an absolute IRI reference.
type IRI string

func (IRI) Kind() Kind { return KindIRI }
func (IRI) isResource() {}
func (i IRI) String() string {
	return "<" + escapeIRI(string(i)) + ">"
}

// LocalName returns the part of the IRI after the last '#', '/' or ':'.
func (i IRI) LocalName() string {
	s := string(i)
	if idx := strings.LastIndexAny(s, "#/:"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// Namespace returns the IRI up to and including the last '#', '/' or ':'.
func (i IRI) Namespace() string {
	s := string(i)
	if idx := strings.LastIndexAny(s, "#/:"); idx >= 0 {
		return s[:idx+1]
	}
	return ""
}

// BNode is a blank node, identified by its label without the "_:" prefix.
type BNode string

func (BNode) Kind() Kind { return KindBNode }
func (BNode) isResource() {}
func (b BNode) String() string {
	return "_:" + string(b)
}

// Literal is an RDF literal.
//
// A plain literal has neither Lang nor Datatype. Language tags are stored
// lower-cased so that "Alice"@EN and "Alice"@en are the same term. A typed
// literal with datatype xsd:string is normalized to a plain literal.
type Literal struct {
	Label    string
	Lang     string
	Datatype IRI
}

// NewLiteral returns a plain literal.
func NewLiteral(label string) Literal {
	return Literal{Label: label}
}

// NewLangLiteral returns a language-tagged literal.
func NewLangLiteral(label, lang string) Literal {
	return Literal{Label: label, Lang: strings.ToLower(lang)}
}

// NewTypedLiteral returns a literal with the given datatype.
func NewTypedLiteral(label string, datatype IRI) Literal {
	if datatype == XSDString {
		datatype = ""
	}
	return Literal{Label: label, Datatype: datatype}
}

func (Literal) Kind() Kind { return KindLiteral }

func (l Literal) String() string {
	var sb strings.Builder
	sb.Grow(len(l.Label) + len(l.Lang) + len(l.Datatype) + 8)
	sb.WriteByte('"')
	sb.WriteString(escapeLiteral(l.Label))
	sb.WriteByte('"')
	switch {
	case l.Lang != "":
		sb.WriteByte('@')
		sb.WriteString(l.Lang)
	case l.Datatype != "":
		sb.WriteString("^^")
		sb.WriteString(l.Datatype.String())
	}
	return sb.String()
}

// Canonical returns v with its lexical form normalized the same way the
// constructors do. Terms built from struct literals may bypass the
// constructors; interning always goes through Canonical.
func Canonical(v Value) Value {
	if l, ok := v.(Literal); ok {
		if l.Lang != "" {
			return NewLangLiteral(l.Label, l.Lang)
		}
		return NewTypedLiteral(l.Label, l.Datatype)
	}
	return v
}

func escapeLiteral(s string) string {
	if !strings.ContainsAny(s, "\"\\\n\r\t") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func escapeIRI(s string) string {
	if !strings.ContainsAny(s, "<>\"{}|^`\\ ") {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\', ' ':
			sb.WriteString(`\u00`)
			const hex = "0123456789ABCDEF"
			sb.WriteByte(hex[r>>4])
			sb.WriteByte(hex[r&0xF])
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
