package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

const sampleNQuads = `# people
<http://example.org/alice> <http://example.org/knows> <http://example.org/bob> .
<http://example.org/alice> <http://example.org/name> "Alice"@en <http://example.org/g1> .
_:x <http://example.org/knows> <http://example.org/alice> <http://example.org/g1> .
<http://example.org/alice> <http://example.org/knows> <http://example.org/bob> .
`

func TestLoadNQuads(t *testing.T) {
	ctx := context.Background()

	t.Run("counts_new_statements", func(t *testing.T) {
		s := newTestStore(t)
		conn := openConn(t, s)
		require.NoError(t, conn.Begin(ctx))
		n, err := LoadNQuads(ctx, conn, strings.NewReader(sampleNQuads), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n, "the repeated line is not counted")
		require.NoError(t, conn.Commit(ctx))

		size, err := s.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, size)
		size, err = s.Size(ctx, g1)
		require.NoError(t, err)
		assert.Equal(t, 2, size)
	})

	t.Run("default_graph_target", func(t *testing.T) {
		s := newTestStore(t)
		conn := openConn(t, s)
		require.NoError(t, conn.Begin(ctx))
		_, err := LoadNQuads(ctx, conn, strings.NewReader(sampleNQuads), g2)
		require.NoError(t, err)
		require.NoError(t, conn.Commit(ctx))

		size, err := s.Size(ctx, g2)
		require.NoError(t, err)
		assert.Equal(t, 1, size)
		size, err = s.Size(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("syntax_error_reports_line", func(t *testing.T) {
		s := newTestStore(t)
		conn := openConn(t, s)
		require.NoError(t, conn.Begin(ctx))
		defer conn.Rollback(ctx)
		_, err := LoadNQuads(ctx, conn, strings.NewReader("<http://example.org/a> <http://example.org/b> .\n"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("requires_transaction", func(t *testing.T) {
		s := newTestStore(t)
		conn := openConn(t, s)
		_, err := LoadNQuads(ctx, conn, strings.NewReader(sampleNQuads), nil)
		assert.ErrorIs(t, err, ErrNoTransaction)
	})

	t.Run("from_file", func(t *testing.T) {
		s := newTestStore(t)
		conn := openConn(t, s)
		path := filepath.Join(t.TempDir(), "data.nq")
		require.NoError(t, os.WriteFile(path, []byte(sampleNQuads), 0o644))
		require.NoError(t, conn.Begin(ctx))
		n, err := LoadNQuadsFile(ctx, conn, path, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.NoError(t, conn.Commit(ctx))

		_, err = LoadNQuadsFile(ctx, conn, filepath.Join(t.TempDir(), "missing.nq"), nil)
		assert.Error(t, err)
	})
}

func TestDumpNQuads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := openConn(t, s)
	require.NoError(t, conn.Begin(ctx))
	_, err := LoadNQuads(ctx, conn, strings.NewReader(sampleNQuads), nil)
	require.NoError(t, err)
	_, err = conn.AddInferredStatement(ctx, quad(bob, knows, alice, nil))
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	var buf bytes.Buffer
	n, err := DumpNQuads(ctx, conn, &buf, rdf.Pattern{}, true, sail.Latest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("dump_reloads_identically", func(t *testing.T) {
		other := newTestStore(t)
		otherConn := openConn(t, other)
		require.NoError(t, otherConn.Begin(ctx))
		loaded, err := LoadNQuads(ctx, otherConn, bytes.NewReader(buf.Bytes()), nil)
		require.NoError(t, err)
		require.NoError(t, otherConn.Commit(ctx))
		assert.Equal(t, 3, loaded)
		assert.ElementsMatch(t,
			matchAt(t, s, rdf.Pattern{}, true, sail.Latest),
			matchAt(t, other, rdf.Pattern{}, true, sail.Latest))
	})

	t.Run("pattern_and_inferred", func(t *testing.T) {
		var out bytes.Buffer
		n, err := DumpNQuads(ctx, conn, &out, rdf.Pattern{Subject: bob}, false, sail.Latest)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "<http://example.org/bob> <http://example.org/knows> <http://example.org/alice> .\n", out.String())
	})
}
