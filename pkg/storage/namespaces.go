package storage

import (
	"sort"
	"sync"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// namespaceTable maps prefixes to namespace IRIs. Namespaces are not
// versioned: changes are visible immediately and are not transactional.
type namespaceTable struct {
	mu       sync.RWMutex
	prefixes map[string]string
}

func newNamespaceTable() *namespaceTable {
	return &namespaceTable{prefixes: make(map[string]string)}
}

func (t *namespaceTable) set(prefix, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.prefixes[prefix]; ok && old == name {
		return false
	}
	t.prefixes[prefix] = name
	return true
}

func (t *namespaceTable) get(prefix string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.prefixes[prefix]
	return name, ok
}

func (t *namespaceTable) remove(prefix string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.prefixes[prefix]; !ok {
		return false
	}
	delete(t.prefixes, prefix)
	return true
}

func (t *namespaceTable) clear() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.prefixes) == 0 {
		return false
	}
	t.prefixes = make(map[string]string)
	return true
}

// list returns the namespaces sorted by prefix.
func (t *namespaceTable) list() []rdf.Namespace {
	t.mu.RLock()
	out := make([]rdf.Namespace, 0, len(t.prefixes))
	for p, n := range t.prefixes {
		out = append(out, rdf.Namespace{Prefix: p, Name: n})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
