// Package storage - N-Quads import and export.
//
// Statements are read and written one per line in N-Quads (a superset of
// N-Triples), so dumps can be fed back to Load unchanged.
//
// Example Usage:
//
//	conn, _ := store.Connection()
//	defer conn.Close()
//	conn.Begin(ctx)
//	n, err := storage.LoadNQuadsFile(ctx, conn, "data.nq", nil)
//	if err != nil {
//		conn.Rollback(ctx)
//		return err
//	}
//	conn.Commit(ctx)
//
//	_, err = storage.DumpNQuads(ctx, conn, os.Stdout, rdf.Pattern{}, true, sail.Latest)
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

// LoadNQuads adds every statement read from r as explicit statements through
// conn, which must have an active transaction. Statements in the default
// graph are placed in graph when it is non-nil. It returns the number of
// statements that were newly created.
func LoadNQuads(ctx context.Context, conn sail.Connection, r io.Reader, graph rdf.Resource) (int, error) {
	reader := rdf.NewReader(r)
	created, read := 0, 0
	for {
		st, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return created, nil
		}
		if err != nil {
			return created, err
		}
		read++
		if read%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return created, err
			}
		}
		if st.Context == nil && graph != nil {
			st.Context = graph
		}
		added, err := conn.AddStatement(ctx, st, true)
		if err != nil {
			return created, fmt.Errorf("adding %s: %w", st, err)
		}
		if added {
			created++
		}
	}
}

// LoadNQuadsFile is LoadNQuads reading from the file at path.
func LoadNQuadsFile(ctx context.Context, conn sail.Connection, path string, graph rdf.Resource) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	n, err := LoadNQuads(ctx, conn, f, graph)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// DumpNQuads writes the statements matching p at snapshot to w, one N-Quads
// line each, and returns how many were written.
func DumpNQuads(ctx context.Context, conn sail.Connection, w io.Writer, p rdf.Pattern, explicitOnly bool, snapshot int64) (int, error) {
	c, err := conn.MatchStatements(ctx, p, explicitOnly, snapshot)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	out := rdf.NewWriter(w)
	n := 0
	for c.Next() {
		if err := out.Write(c.Item()); err != nil {
			return n, err
		}
		n++
	}
	if err := c.Err(); err != nil {
		return n, err
	}
	return n, out.Flush()
}
