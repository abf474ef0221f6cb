package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

func openConn(t *testing.T, s *MemoryStore) sail.InferencerConnection {
	t.Helper()
	conn, err := s.Connection()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnectionTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := openConn(t, s)
	st := quad(alice, knows, bob, g1)

	t.Run("mutations_need_a_transaction", func(t *testing.T) {
		_, err := conn.AddStatement(ctx, st, true)
		assert.ErrorIs(t, err, ErrNoTransaction)
		_, err = conn.RemoveStatements(ctx, rdf.Pattern{}, true)
		assert.ErrorIs(t, err, ErrNoTransaction)
		assert.ErrorIs(t, conn.Commit(ctx), ErrNoTransaction)
		assert.ErrorIs(t, conn.Rollback(ctx), ErrNoTransaction)
		assert.ErrorIs(t, conn.FlushUpdates(ctx), ErrNoTransaction)
	})

	t.Run("reads_see_pending_changes", func(t *testing.T) {
		require.NoError(t, conn.Begin(ctx))
		assert.True(t, conn.IsActive())
		assert.ErrorIs(t, conn.Begin(ctx), ErrTransactionActive)

		ok, err := conn.AddStatement(ctx, st, true)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = conn.AddInferredStatement(ctx, quad(bob, knows, alice, nil))
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, conn.FlushUpdates(ctx))

		n, err := conn.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "size counts explicit statements only")

		c, err := conn.MatchStatements(ctx, rdf.Pattern{}, false, sail.Latest)
		require.NoError(t, err)
		all, err := cursor.Collect(c)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		// An explicit snapshot reads committed state, ignoring the transaction.
		c, err = conn.MatchStatements(ctx, rdf.Pattern{}, false, conn.CurrentSnapshot())
		require.NoError(t, err)
		committed, err := cursor.Collect(c)
		require.NoError(t, err)
		assert.Empty(t, committed)

		require.NoError(t, conn.Commit(ctx))
		assert.False(t, conn.IsActive())
	})

	t.Run("remove_inferred", func(t *testing.T) {
		require.NoError(t, conn.Begin(ctx))
		n, err := conn.RemoveInferredStatements(ctx, rdf.Pattern{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, conn.Commit(ctx))

		c, err := conn.MatchStatements(ctx, rdf.Pattern{}, false, sail.Latest)
		require.NoError(t, err)
		out, err := cursor.Collect(c)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Statement{st}, out)
	})

	t.Run("rollback", func(t *testing.T) {
		require.NoError(t, conn.Begin(ctx))
		_, err := conn.RemoveStatements(ctx, rdf.Pattern{}, true)
		require.NoError(t, err)
		require.NoError(t, conn.Rollback(ctx))
		n, err := conn.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestConnectionContextIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	commitStatements(t, s, true,
		quad(alice, knows, bob, g1),
		quad(bob, knows, carol, g1),
		quad(carol, knows, alice, g2),
		quad(alice, name, rdf.NewLiteral("Alice"), nil),
	)
	commitStatements(t, s, false, quad(bob, knows, alice, rdf.IRI(ex+"inferred")))

	conn := openConn(t, s)
	c, err := conn.ContextIDs(ctx)
	require.NoError(t, err)
	ids, err := cursor.Collect(c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []rdf.Resource{g1, g2}, ids)

	n, err := conn.Size(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = conn.Size(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnectionListeners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := openConn(t, s)
	l := &recordingListener{}
	conn.AddConnectionListener(l)

	st := quad(alice, knows, bob, nil)
	require.NoError(t, conn.Begin(ctx))
	_, err := conn.AddStatement(ctx, st, true)
	require.NoError(t, err)
	_, err = conn.RemoveStatements(ctx, rdf.Pattern{}, true)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, []rdf.Statement{st}, l.added)
	assert.Equal(t, []rdf.Statement{st}, l.removed)

	conn.RemoveConnectionListener(l)
	require.NoError(t, conn.Begin(ctx))
	_, err = conn.AddStatement(ctx, st, true)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))
	assert.Len(t, l.added, 1)

	t.Run("uncomparable_listener", func(t *testing.T) {
		var seen int
		fl := funcListener{added: func(rdf.Statement) { seen++ }}
		remove := conn.AddConnectionListener(fl)
		assert.NotPanics(t, func() { conn.RemoveConnectionListener(fl) })

		other := quad(bob, knows, carol, nil)
		require.NoError(t, conn.Begin(ctx))
		_, err := conn.AddStatement(ctx, other, true)
		require.NoError(t, err)
		require.NoError(t, conn.Commit(ctx))
		assert.Equal(t, 1, seen, "removal by value leaves a func listener registered")

		remove()
		require.NoError(t, conn.Begin(ctx))
		_, err = conn.RemoveStatements(ctx, rdf.PatternOf(other), true)
		require.NoError(t, err)
		_, err = conn.AddStatement(ctx, other, true)
		require.NoError(t, err)
		require.NoError(t, conn.Commit(ctx))
		assert.Equal(t, 1, seen)
	})
}

// funcListener holds a func field, so its values cannot be compared.
type funcListener struct {
	added func(rdf.Statement)
}

func (l funcListener) StatementAdded(st rdf.Statement) { l.added(st) }
func (l funcListener) StatementRemoved(rdf.Statement) {}

func TestConnectionNamespaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := openConn(t, s)

	require.NoError(t, conn.SetNamespace(ctx, "ex", ex))
	name, ok := conn.Namespace("ex")
	assert.True(t, ok)
	assert.Equal(t, ex, name)
	assert.Equal(t, []rdf.Namespace{{Prefix: "ex", Name: ex}}, conn.Namespaces())

	require.NoError(t, conn.RemoveNamespace(ctx, "ex"))
	assert.Empty(t, conn.Namespaces())
	require.NoError(t, conn.SetNamespace(ctx, "a", ex))
	require.NoError(t, conn.ClearNamespaces(ctx))
	assert.Empty(t, s.Namespaces())
}

func TestConnectionClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conn, err := s.Connection()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().OpenConnections)
	require.NoError(t, conn.Begin(ctx))
	_, err = conn.AddStatement(ctx, quad(alice, knows, bob, nil), true)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsOpen())
	assert.Equal(t, 0, s.Stats().OpenConnections)
	// Closing rolled the transaction back and released the writer slot.
	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	tx, err := s.TryBegin()
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Begin(ctx), ErrConnectionClosed)
	_, err = conn.MatchStatements(ctx, rdf.Pattern{}, false, sail.Latest)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionConcurrentUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := openConn(t, s)
	require.NoError(t, conn.Begin(ctx))

	people := []rdf.IRI{alice, bob, carol}
	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				obj := rdf.NewTypedLiteral(string(rune('a'+j)), "")
				_, err := conn.AddStatement(ctx, quad(people[i], name, obj, nil), true)
				assert.NoError(t, err)
				_, err = conn.Size(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, conn.Commit(ctx))

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}
