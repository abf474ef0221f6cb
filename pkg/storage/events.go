package storage

import (
	"reflect"
	"sync"
)

// ChangeEvent describes a commit that changed the store's visible contents.
type ChangeEvent struct {
	// Snapshot is the snapshot the commit produced.
	Snapshot          int64
	StatementsAdded   bool
	StatementsRemoved bool
}

// StoreListener is notified after every commit that changed visible contents.
// Listeners run synchronously on the committing goroutine after all locks
// have been released, so they may read from the store.
type StoreListener interface {
	StoreChanged(ev ChangeEvent)
}

// StoreListenerFunc adapts a function to StoreListener.
type StoreListenerFunc func(ev ChangeEvent)

// StoreChanged calls f(ev).
func (f StoreListenerFunc) StoreChanged(ev ChangeEvent) { f(ev) }

// AddStoreListener registers l and returns a function that unregisters it.
func (s *MemoryStore) AddStoreListener(l StoreListener) (remove func()) {
	return s.listeners.add(l)
}

// RemoveStoreListener unregisters the first registration of l. Listeners
// that cannot be compared, such as a StoreListenerFunc, are only removed
// through the function returned by AddStoreListener.
func (s *MemoryStore) RemoveStoreListener(l StoreListener) {
	s.listeners.remove(l)
}

func (s *MemoryStore) notifyStoreChanged(ev ChangeEvent) {
	for _, l := range s.listeners.list() {
		l.StoreChanged(ev)
	}
}

// listenerSet holds registered listeners. Each registration is its own
// pointer, so removal never has to compare listener values.
type listenerSet[L any] struct {
	mu   sync.RWMutex
	regs []*registration[L]
}

type registration[L any] struct{ l L }

func (ls *listenerSet[L]) add(l L) func() {
	r := &registration[L]{l: l}
	ls.mu.Lock()
	ls.regs = append(ls.regs, r)
	ls.mu.Unlock()
	return func() { ls.unregister(r) }
}

func (ls *listenerSet[L]) unregister(r *registration[L]) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.regs {
		if existing == r {
			ls.regs = append(ls.regs[:i:i], ls.regs[i+1:]...)
			return
		}
	}
}

// remove drops the first registration equal to l. Uncomparable listeners
// never match.
func (ls *listenerSet[L]) remove(l L) {
	v := reflect.ValueOf(l)
	if !v.IsValid() || !v.Comparable() {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.regs {
		ev := reflect.ValueOf(existing.l)
		if ev.IsValid() && ev.Comparable() && ev.Equal(v) {
			ls.regs = append(ls.regs[:i:i], ls.regs[i+1:]...)
			return
		}
	}
}

// list returns the registered listeners in registration order.
func (ls *listenerSet[L]) list() []L {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]L, len(ls.regs))
	for i, r := range ls.regs {
		out[i] = r.l
	}
	return out
}
