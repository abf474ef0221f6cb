// Package cursor defines the closeable, forward-only result sequence shared
// by the store and its consumers, plus the decorators used to compose them.
//
// A Cursor follows the bufio.Scanner protocol:
//
//	c := store.Match(...)
//	defer c.Close()
//	for c.Next() {
//		use(c.Item())
//	}
//	if err := c.Err(); err != nil {
//		return err
//	}
//
// Close must be called on every exit path and is idempotent. Decorators close
// their delegate first and only then release anything they own themselves.
package cursor

import (
	"errors"
	"sync"

	"github.com/orneryd/quadstore/pkg/lock"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// ErrClosed is reported by Err when a cursor was closed by someone other
// than its consumer (for example during store shutdown).
var ErrClosed = errors.New("cursor: closed")

// Cursor is a lazy, forward-only sequence of T.
type Cursor[T any] interface {
	// Next advances to the next item. It returns false at the end of the
	// sequence, after an error, or once the cursor is closed.
	Next() bool
	// Item returns the current item. Only valid after Next returned true.
	Item() T
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases resources held by the cursor. Safe to call repeatedly.
	Close() error
}

// Empty returns an exhausted cursor.
func Empty[T any]() Cursor[T] {
	return &empty[T]{}
}

type empty[T any] struct{}

func (*empty[T]) Next() bool { return false }
func (*empty[T]) Item() T {
	var zero T
	return zero
}
func (*empty[T]) Err() error { return nil }
func (*empty[T]) Close() error { return nil }

// FromSlice returns a cursor over items. The slice is not copied.
func FromSlice[T any](items []T) Cursor[T] {
	return &sliceCursor[T]{items: items, pos: -1}
}

type sliceCursor[T any] struct {
	items  []T
	pos    int
	closed bool
}

func (c *sliceCursor[T]) Next() bool {
	if c.closed || c.pos+1 >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor[T]) Item() T { return c.items[c.pos] }
func (c *sliceCursor[T]) Err() error { return nil }

func (c *sliceCursor[T]) Close() error {
	c.closed = true
	c.items = nil
	return nil
}

// Filter yields only items for which accept returns true.
func Filter[T any](delegate Cursor[T], accept func(T) bool) Cursor[T] {
	return &filterCursor[T]{delegate: delegate, accept: accept}
}

type filterCursor[T any] struct {
	delegate Cursor[T]
	accept   func(T) bool
}

func (c *filterCursor[T]) Next() bool {
	for c.delegate.Next() {
		if c.accept(c.delegate.Item()) {
			return true
		}
	}
	return false
}

func (c *filterCursor[T]) Item() T { return c.delegate.Item() }
func (c *filterCursor[T]) Err() error { return c.delegate.Err() }
func (c *filterCursor[T]) Close() error { return c.delegate.Close() }

// Map converts every item with fn.
func Map[T, U any](delegate Cursor[T], fn func(T) U) Cursor[U] {
	return &mapCursor[T, U]{delegate: delegate, fn: fn}
}

type mapCursor[T, U any] struct {
	delegate Cursor[T]
	fn       func(T) U
	current  U
}

func (c *mapCursor[T, U]) Next() bool {
	if !c.delegate.Next() {
		var zero U
		c.current = zero
		return false
	}
	c.current = c.fn(c.delegate.Item())
	return true
}

func (c *mapCursor[T, U]) Item() U { return c.current }
func (c *mapCursor[T, U]) Err() error { return c.delegate.Err() }
func (c *mapCursor[T, U]) Close() error { return c.delegate.Close() }

// Distinct drops items already yielded. It remembers every yielded item
// until closed, so memory grows with the number of distinct results.
func Distinct[T comparable](delegate Cursor[T]) Cursor[T] {
	seen := make(map[T]struct{})
	d := &distinctCursor[T]{seen: seen}
	d.Cursor = Filter(delegate, func(item T) bool {
		if _, dup := d.seen[item]; dup {
			return false
		}
		d.seen[item] = struct{}{}
		return true
	})
	return d
}

type distinctCursor[T comparable] struct {
	Cursor[T]
	seen map[T]struct{}
}

func (d *distinctCursor[T]) Close() error {
	err := d.Cursor.Close()
	d.seen = nil
	return err
}

// NamedContexts drops statements in the default (null) context.
func NamedContexts(delegate Cursor[rdf.Statement]) Cursor[rdf.Statement] {
	return Filter(delegate, func(st rdf.Statement) bool {
		return st.Context != nil
	})
}

// Locking holds l for the lifetime of delegate and releases it when the
// cursor is closed, after the delegate has been closed. Close may be called
// from another goroutine (forced shutdown); Next then stops yielding.
func Locking[T any](l lock.Lock, delegate Cursor[T]) Cursor[T] {
	return &lockingCursor[T]{delegate: delegate, lock: l}
}

type lockingCursor[T any] struct {
	mu       sync.Mutex
	delegate Cursor[T]
	lock     lock.Lock
	current  T
	closed   bool
	forced   bool
	err      error
}

func (c *lockingCursor[T]) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.delegate.Next() {
		var zero T
		c.current = zero
		return false
	}
	c.current = c.delegate.Item()
	return true
}

func (c *lockingCursor[T]) Item() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *lockingCursor[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forced {
		return ErrClosed
	}
	if c.closed {
		return c.err
	}
	return c.delegate.Err()
}

func (c *lockingCursor[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// ForceClose closes the cursor on behalf of someone other than its consumer.
// The consumer's next Err call reports ErrClosed.
func (c *lockingCursor[T]) ForceClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.forced = true
	}
	return c.closeLocked()
}

func (c *lockingCursor[T]) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.err = c.delegate.Err()
	defer c.lock.Release()
	return c.delegate.Close()
}

// ForceCloser is implemented by cursors that can be closed out from under
// their consumer.
type ForceCloser interface {
	ForceClose() error
}

// OnClose runs fn once, after delegate has been closed.
func OnClose[T any](delegate Cursor[T], fn func()) Cursor[T] {
	return &onCloseCursor[T]{Cursor: delegate, fn: fn}
}

type onCloseCursor[T any] struct {
	Cursor[T]
	once sync.Once
	fn   func()
}

func (c *onCloseCursor[T]) Close() error {
	err := c.Cursor.Close()
	c.once.Do(c.fn)
	return err
}

// ForceClose forwards to the delegate when it supports forced closing.
func (c *onCloseCursor[T]) ForceClose() error {
	var err error
	if fc, ok := c.Cursor.(ForceCloser); ok {
		err = fc.ForceClose()
	} else {
		err = c.Cursor.Close()
	}
	c.once.Do(c.fn)
	return err
}

// Collect drains c into a slice and closes it.
func Collect[T any](c Cursor[T]) ([]T, error) {
	defer c.Close()
	var out []T
	for c.Next() {
		out = append(out, c.Item())
	}
	return out, c.Err()
}

// Count drains c, returning the number of items, and closes it.
func Count[T any](c Cursor[T]) (int, error) {
	defer c.Close()
	n := 0
	for c.Next() {
		n++
	}
	return n, c.Err()
}
