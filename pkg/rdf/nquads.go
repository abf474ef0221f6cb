package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrSyntax is returned (wrapped in a *SyntaxError) for malformed input.
var ErrSyntax = errors.New("rdf: syntax error")

// SyntaxError reports the line and reason of a parse failure.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rdf: syntax error on line %d: %s", e.Line, e.Msg)
	}
	return "rdf: syntax error: " + e.Msg
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// ParseTerm parses a single term in N-Triples syntax:
// <iri>, _:label, "label", "label"@lang or "label"^^<datatype>.
func ParseTerm(s string) (Value, error) {
	s = strings.TrimSpace(s)
	v, n, err := scanTerm(s, 0)
	if err != nil {
		return nil, err
	}
	if rest := strings.TrimSpace(s[n:]); rest != "" {
		return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected trailing input %q", rest)}
	}
	return v, nil
}

// ParseResource parses an IRI or blank node.
func ParseResource(s string) (Resource, error) {
	v, err := ParseTerm(s)
	if err != nil {
		return nil, err
	}
	r, ok := v.(Resource)
	if !ok {
		return nil, &SyntaxError{Msg: fmt.Sprintf("%s is not a resource", v)}
	}
	return r, nil
}

// ParseIRI parses an IRI in angle brackets.
func ParseIRI(s string) (IRI, error) {
	v, err := ParseTerm(s)
	if err != nil {
		return "", err
	}
	iri, ok := v.(IRI)
	if !ok {
		return "", &SyntaxError{Msg: fmt.Sprintf("%s is not an IRI", v)}
	}
	return iri, nil
}

// ParseQuad parses one N-Quads line. ok is false for blank and comment lines.
func ParseQuad(line string) (st Statement, ok bool, err error) {
	s := strings.TrimSpace(line)
	if s == "" || s[0] == '#' {
		return Statement{}, false, nil
	}

	var terms [4]Value
	n, pos := 0, 0
	for {
		pos = skipSpace(s, pos)
		if pos >= len(s) {
			return Statement{}, false, &SyntaxError{Msg: "missing terminating '.'"}
		}
		if s[pos] == '.' {
			pos++
			break
		}
		if n == len(terms) {
			return Statement{}, false, &SyntaxError{Msg: "too many terms"}
		}
		v, next, err := scanTerm(s, pos)
		if err != nil {
			return Statement{}, false, err
		}
		terms[n] = v
		n++
		pos = next
	}
	if rest := strings.TrimSpace(s[pos:]); rest != "" && rest[0] != '#' {
		return Statement{}, false, &SyntaxError{Msg: fmt.Sprintf("unexpected input after '.': %q", rest)}
	}
	if n < 3 {
		return Statement{}, false, &SyntaxError{Msg: "expected at least subject, predicate and object"}
	}

	subj, isRes := terms[0].(Resource)
	if !isRes {
		return Statement{}, false, &SyntaxError{Msg: "subject must be an IRI or blank node"}
	}
	pred, isIRI := terms[1].(IRI)
	if !isIRI {
		return Statement{}, false, &SyntaxError{Msg: "predicate must be an IRI"}
	}
	st = Statement{Subject: subj, Predicate: pred, Object: terms[2]}
	if n == 4 {
		ctx, isRes := terms[3].(Resource)
		if !isRes {
			return Statement{}, false, &SyntaxError{Msg: "graph label must be an IRI or blank node"}
		}
		st.Context = ctx
	}
	return st, true, nil
}

// Reader reads statements from N-Quads (or N-Triples) input.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: sc}
}

// Read returns the next statement, or io.EOF when input is exhausted.
func (r *Reader) Read() (Statement, error) {
	for r.scanner.Scan() {
		r.line++
		st, ok, err := ParseQuad(r.scanner.Text())
		if err != nil {
			var se *SyntaxError
			if errors.As(err, &se) {
				se.Line = r.line
			}
			return Statement{}, err
		}
		if ok {
			return st, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Statement{}, err
	}
	return Statement{}, io.EOF
}

// ReadAll reads every remaining statement.
func (r *Reader) ReadAll() ([]Statement, error) {
	var out []Statement
	for {
		st, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
}

// Writer writes statements as N-Quads.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer over w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes one statement line.
func (w *Writer) Write(st Statement) error {
	if _, err := w.w.WriteString(st.String()); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush flushes buffered output.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// scanTerm parses the term starting at s[i] and returns it with the index
// just past it.
func scanTerm(s string, i int) (Value, int, error) {
	if i >= len(s) {
		return nil, i, &SyntaxError{Msg: "unexpected end of input"}
	}
	switch {
	case s[i] == '<':
		iri, next, err := scanIRI(s, i)
		return iri, next, err
	case strings.HasPrefix(s[i:], "_:"):
		j := i + 2
		for j < len(s) && !isTermEnd(s[j]) {
			j++
		}
		// labels never end with a dot: "_:b1." is "b1" plus the terminator
		for j > i+2 && s[j-1] == '.' {
			j--
		}
		if j == i+2 {
			return nil, i, &SyntaxError{Msg: "empty blank node label"}
		}
		return BNode(s[i+2 : j]), j, nil
	case s[i] == '"':
		return scanLiteral(s, i)
	default:
		return nil, i, &SyntaxError{Msg: fmt.Sprintf("unexpected character %q", s[i])}
	}
}

func isTermEnd(c byte) bool {
	return c == ' ' || c == '\t' || c == '<' || c == '"'
}

func scanIRI(s string, i int) (IRI, int, error) {
	end := strings.IndexByte(s[i+1:], '>')
	if end < 0 {
		return "", i, &SyntaxError{Msg: "unterminated IRI"}
	}
	raw := s[i+1 : i+1+end]
	val, err := unescape(raw)
	if err != nil {
		return "", i, err
	}
	return IRI(val), i + end + 2, nil
}

func scanLiteral(s string, i int) (Value, int, error) {
	j := i + 1
	for j < len(s) {
		if s[j] == '\\' {
			j += 2
			continue
		}
		if s[j] == '"' {
			break
		}
		j++
	}
	if j >= len(s) {
		return nil, i, &SyntaxError{Msg: "unterminated literal"}
	}
	label, err := unescape(s[i+1 : j])
	if err != nil {
		return nil, i, err
	}
	j++

	switch {
	case j < len(s) && s[j] == '@':
		k := j + 1
		for k < len(s) && (isAlnum(s[k]) || s[k] == '-') {
			k++
		}
		if k == j+1 {
			return nil, i, &SyntaxError{Msg: "empty language tag"}
		}
		return NewLangLiteral(label, s[j+1:k]), k, nil
	case strings.HasPrefix(s[j:], "^^"):
		if j+2 >= len(s) || s[j+2] != '<' {
			return nil, i, &SyntaxError{Msg: "datatype must be an IRI"}
		}
		dt, next, err := scanIRI(s, j+2)
		if err != nil {
			return nil, i, err
		}
		return NewTypedLiteral(label, dt), next, nil
	default:
		return NewLiteral(label), j, nil
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func unescape(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", &SyntaxError{Msg: "dangling escape"}
		}
		i++
		switch s[i] {
		case 't':
			sb.WriteByte('\t')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case '"', '\'', '\\':
			sb.WriteByte(s[i])
		case 'u', 'U':
			width := 4
			if s[i] == 'U' {
				width = 8
			}
			if i+width >= len(s) {
				return "", &SyntaxError{Msg: "short unicode escape"}
			}
			code, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(code)) {
				return "", &SyntaxError{Msg: fmt.Sprintf("invalid unicode escape %q", s[i-1:i+1+width])}
			}
			sb.WriteRune(rune(code))
			i += width
		default:
			return "", &SyntaxError{Msg: fmt.Sprintf("invalid escape \\%c", s[i])}
		}
	}
	return sb.String(), nil
}
