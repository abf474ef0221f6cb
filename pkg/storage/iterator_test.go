package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func listLens(lists [][]*MemStatement) []int {
	lens := make([]int, len(lists))
	for i, l := range lists {
		lens[i] = len(l)
	}
	return lens
}

// skewedStore holds 10 statements about alice in the default graph, one of
// them with a rare predicate, plus 2 statements in g1 and 3 in g2.
func skewedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := newTestStore(t)
	var sts []rdf.Statement
	for i := range 9 {
		sts = append(sts, quad(alice, knows, rdf.IRI(fmt.Sprintf("%sp%d", ex, i)), nil))
	}
	sts = append(sts, quad(alice, name, rdf.NewLiteral("Alice"), nil))
	sts = append(sts,
		quad(bob, knows, carol, g1),
		quad(carol, knows, bob, g1),
		quad(bob, name, rdf.NewLiteral("Bob"), g2),
		quad(carol, name, rdf.NewLiteral("Carol"), g2),
		quad(bob, knows, alice, g2),
	)
	commitStatements(t, s, true, sts...)
	require.Equal(t, 15, s.index.Len())
	return s
}

func TestCandidates(t *testing.T) {
	s := skewedStore(t)

	tests := []struct {
		name    string
		pattern rdf.Pattern
		want    []int
	}{
		{"wildcard_scans_primary_list", rdf.Pattern{}, []int{15}},
		{"subject_list", rdf.Pattern{Subject: alice}, []int{10}},
		{"shortest_bound_list_wins", rdf.Pattern{Subject: alice, Predicate: name}, []int{3}},
		{"object_list", rdf.Pattern{Subject: alice, Object: rdf.NewLiteral("Alice")}, []int{1}},
		{"single_named_context", rdf.Pattern{Subject: alice, Contexts: []rdf.Resource{g1}}, []int{2}},
		{"named_contexts_back_to_back", rdf.Pattern{Contexts: []rdf.Resource{g1, g2}}, []int{2, 3}},
		{"duplicate_contexts_scanned_once", rdf.Pattern{Contexts: []rdf.Resource{g2, g2}}, []int{3}},
		{"default_graph_falls_back", rdf.Pattern{Contexts: []rdf.Resource{nil, g1}}, []int{15}},
		{"default_graph_with_bound_subject", rdf.Pattern{Subject: bob, Contexts: []rdf.Resource{nil, g1}}, []int{3}},
		{"unknown_context_ignored", rdf.Pattern{Contexts: []rdf.Resource{g1, rdf.IRI(ex + "nowhere")}}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, ok := s.resolve(tt.pattern)
			require.True(t, ok)
			assert.Equal(t, tt.want, listLens(s.candidates(rp)))
		})
	}

	t.Run("unknown_term_matches_nothing", func(t *testing.T) {
		_, ok := s.resolve(rdf.Pattern{Predicate: rdf.IRI(ex + "unused")})
		assert.False(t, ok)
		_, ok = s.resolve(rdf.Pattern{Contexts: []rdf.Resource{rdf.IRI(ex + "nowhere")}})
		assert.False(t, ok)
	})

	t.Run("results_match_full_scan", func(t *testing.T) {
		for _, tt := range tests {
			var want []rdf.Statement
			for _, st := range matchAt(t, s, rdf.Pattern{}, true, 1) {
				if tt.pattern.Matches(st) {
					want = append(want, st)
				}
			}
			assert.ElementsMatch(t, want, matchAt(t, s, tt.pattern, true, 1), tt.name)
		}
	})
}
