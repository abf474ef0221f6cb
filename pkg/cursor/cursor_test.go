package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/lock"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// recordingCursor tracks Close calls and the order they happen in.
type recordingCursor[T any] struct {
	Cursor[T]
	closes int
	log    *[]string
}

func (r *recordingCursor[T]) Close() error {
	r.closes++
	if r.log != nil {
		*r.log = append(*r.log, "delegate")
	}
	return r.Cursor.Close()
}

type recordingLock struct {
	lock.Lock
	log *[]string
}

func (r recordingLock) Release() {
	*r.log = append(*r.log, "lock")
	r.Lock.Release()
}

type failingCursor struct {
	Cursor[int]
	err error
}

func (f failingCursor) Err() error { return f.err }

func TestEmpty(t *testing.T) {
	c := Empty[int]()
	assert.False(t, c.Next())
	assert.Zero(t, c.Item())
	assert.NoError(t, c.Err())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestFromSliceAndCollect(t *testing.T) {
	got, err := Collect(FromSlice([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	c := FromSlice([]int{1, 2})
	require.True(t, c.Next())
	require.NoError(t, c.Close())
	assert.False(t, c.Next(), "closed cursor must not yield")
}

func TestFilterAndMap(t *testing.T) {
	even := Filter(FromSlice([]int{1, 2, 3, 4, 5, 6}), func(i int) bool { return i%2 == 0 })
	doubled := Map(even, func(i int) string { return string(rune('a' + i)) })
	got, err := Collect(doubled)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "e", "g"}, got)
}

func TestDistinct(t *testing.T) {
	inner := &recordingCursor[int]{Cursor: FromSlice([]int{3, 1, 3, 2, 1, 3})}
	got, err := Collect(Distinct[int](inner))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, got)
	assert.Equal(t, 1, inner.closes)
}

func TestNamedContexts(t *testing.T) {
	def := rdf.NewStatement(rdf.IRI("s"), rdf.IRI("p"), rdf.IRI("o"), nil)
	named := rdf.NewStatement(rdf.IRI("s"), rdf.IRI("p"), rdf.IRI("o"), rdf.IRI("g"))
	got, err := Collect(NamedContexts(FromSlice([]rdf.Statement{def, named})))
	require.NoError(t, err)
	assert.Equal(t, []rdf.Statement{named}, got)
}

func TestLockingReleasesAfterDelegate(t *testing.T) {
	var rw lock.ReadPrefRWLock
	l, err := rw.RLock(context.Background())
	require.NoError(t, err)

	var order []string
	inner := &recordingCursor[int]{Cursor: FromSlice([]int{1, 2}), log: &order}
	c := Locking[int](recordingLock{Lock: l, log: &order}, inner)

	require.True(t, c.Next())
	assert.Equal(t, 1, c.Item())
	assert.Equal(t, 1, rw.ActiveLocks())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, []string{"delegate", "lock"}, order)
	assert.Equal(t, 0, rw.ActiveLocks())
	assert.False(t, c.Next())
}

func TestLockingForceClose(t *testing.T) {
	var rw lock.ReadPrefRWLock
	l, err := rw.RLock(context.Background())
	require.NoError(t, err)

	c := Locking[int](l, FromSlice([]int{1, 2, 3}))
	require.True(t, c.Next())

	fc, ok := c.(ForceCloser)
	require.True(t, ok)
	require.NoError(t, fc.ForceClose())

	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.Equal(t, 0, rw.ActiveLocks())
	assert.NoError(t, c.Close())
}

func TestLockingPreservesDelegateError(t *testing.T) {
	var rw lock.ReadPrefRWLock
	l, err := rw.RLock(context.Background())
	require.NoError(t, err)

	boom := errors.New("boom")
	c := Locking[int](l, failingCursor{Cursor: Empty[int](), err: boom})
	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), boom)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Err(), boom)
}

func TestOnClose(t *testing.T) {
	calls := 0
	c := OnClose(FromSlice([]int{1}), func() { calls++ })
	n, err := Count(c)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, c.Close())
	assert.Equal(t, 1, calls)
}

func TestOnCloseForwardsForceClose(t *testing.T) {
	var rw lock.ReadPrefRWLock
	l, err := rw.RLock(context.Background())
	require.NoError(t, err)

	calls := 0
	c := OnClose(Locking[int](l, FromSlice([]int{1})), func() { calls++ })
	require.NoError(t, c.(ForceCloser).ForceClose())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, rw.ActiveLocks())
}
