package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, "quadstore %s", strings.Join(args, " "))
	return out
}

const people = `<http://example.org/alice> <http://example.org/knows> <http://example.org/bob> .
<http://example.org/alice> <http://example.org/name> "Alice" <http://example.org/g1> .
<http://example.org/bob> <http://example.org/knows> <http://example.org/carol> <http://example.org/g1> .
`

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(t.TempDir(), "people.nq")
	require.NoError(t, os.WriteFile(data, []byte(people), 0o644))

	out := mustExecute(t, "load", data, "--data-dir", dir)
	assert.Contains(t, out, "Loaded 3 statements")

	out = mustExecute(t, "match", "--predicate", "<http://example.org/knows>", "--data-dir", dir)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines, "<http://example.org/alice> <http://example.org/knows> <http://example.org/bob> .")

	out = mustExecute(t, "match", "--graph", "default", "--data-dir", dir)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	var stats struct {
		IndexedStatements int  `json:"indexed_statements"`
		Writable          bool `json:"writable"`
	}
	out = mustExecute(t, "stats", "--data-dir", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.IndexedStatements)
	assert.False(t, stats.Writable, "stats opens read-only")

	mustExecute(t, "ns", "set", "ex", "http://example.org/", "--data-dir", dir)
	out = mustExecute(t, "ns", "list", "--data-dir", dir)
	assert.Equal(t, "ex: <http://example.org/>\n", out)
	mustExecute(t, "ns", "remove", "ex", "--data-dir", dir)
	assert.Empty(t, mustExecute(t, "ns", "list", "--data-dir", dir))

	out = mustExecute(t, "remove", "--subject", "<http://example.org/alice>", "--data-dir", dir)
	assert.Contains(t, out, "Removed 2 statements")

	out = mustExecute(t, "compact", "--data-dir", dir)
	assert.Contains(t, out, "After:")

	dump := filepath.Join(t.TempDir(), "dump.nq")
	mustExecute(t, "dump", "-o", dump, "--data-dir", dir)
	written, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, "<http://example.org/bob> <http://example.org/knows> <http://example.org/carol> <http://example.org/g1> .\n", string(written))
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "match", "--subject", `"literal"`, "--data-dir", dir)
	assert.ErrorContains(t, err, "subject")

	_, err = execute(t, "load", filepath.Join(dir, "missing.nq"), "--data-dir", dir)
	assert.Error(t, err)

	_, err = execute(t, "stats", "--data-dir", dir, "--log-level", "LOUD")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	out := mustExecute(t, "init", "--data-dir", dir)
	assert.Contains(t, out, "Data directory initialized")

	configPath := filepath.Join(dir, "quadstore.yaml")
	require.FileExists(t, configPath)
	out = mustExecute(t, "stats", "--config", configPath)
	assert.Contains(t, out, `"indexed_statements": 0`)
}

func TestParseGraph(t *testing.T) {
	g, err := parseGraph("default")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = parseGraph("<http://example.org/g>")
	require.NoError(t, err)
	assert.Equal(t, rdf.IRI("http://example.org/g"), g)

	_, err = parseGraph(`"x"`)
	assert.Error(t, err)
}
