package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternValidate(t *testing.T) {
	assert.NoError(t, Pattern{}.Validate())
	assert.NoError(t, Pattern{Subject: BNode("b"), Predicate: IRI("http://x/p")}.Validate())
	assert.ErrorIs(t, Pattern{Subject: NewLiteral("x")}.Validate(), ErrInvalidPattern)
	assert.ErrorIs(t, Pattern{Predicate: BNode("p")}.Validate(), ErrInvalidPattern)
}

func TestPatternMatches(t *testing.T) {
	s, p, g := IRI("http://x/s"), IRI("http://x/p"), IRI("http://x/g")
	inDefault := NewStatement(s, p, NewLangLiteral("hi", "en"), nil)
	inNamed := NewStatement(s, p, NewLiteral("hi"), g)

	tests := []struct {
		name    string
		pattern Pattern
		want    [2]bool
	}{
		{"wildcard", Pattern{}, [2]bool{true, true}},
		{"subject", Pattern{Subject: s}, [2]bool{true, true}},
		{"other_predicate", Pattern{Predicate: IRI("http://x/q")}, [2]bool{false, false}},
		{"lang_object_canonical", Pattern{Object: Literal{Label: "hi", Lang: "EN"}}, [2]bool{true, false}},
		{"default_graph", Pattern{Contexts: []Resource{nil}}, [2]bool{true, false}},
		{"named_graph", Pattern{Contexts: []Resource{g}}, [2]bool{false, true}},
		{"either_graph", Pattern{Contexts: []Resource{nil, g}}, [2]bool{true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want[0], tt.pattern.Matches(inDefault))
			assert.Equal(t, tt.want[1], tt.pattern.Matches(inNamed))
		})
	}
}

func TestPatternOf(t *testing.T) {
	st := NewStatement(IRI("http://x/s"), IRI("http://x/p"), NewLiteral("o"), nil)
	p := PatternOf(st)
	assert.True(t, p.Matches(st))
	assert.False(t, p.Matches(NewStatement(IRI("http://x/s"), IRI("http://x/p"), NewLiteral("o"), IRI("http://x/g"))))
	assert.Equal(t, `<http://x/s> <http://x/p> "o" <default>`, p.String())

	partial := PatternOf(Statement{Subject: IRI("http://x/s")})
	assert.Nil(t, partial.Predicate)
	assert.Equal(t, "<http://x/s> * * <default>", partial.String())
}
