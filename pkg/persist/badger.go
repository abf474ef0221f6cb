// Package persist stores a quad store's committed contents in BadgerDB.
//
// BadgerSyncer implements storage.Syncer. On Initialize the store asks it to
// replay the last synced state; afterwards the store hands it a full-scan
// cursor whenever contents changed. The in-memory store stays the system of
// record while running: BadgerDB is only a durable copy of the latest synced
// snapshot.
//
// Key Structure:
//   - Meta:       0x01 -> JSON(meta)
//   - Values:     0x02 + gen + blake2b(term) -> N-Triples term
//   - Statements: 0x03 + gen + blake2b(s) + blake2b(p) + blake2b(o) + blake2b(c) -> flags
//   - Namespaces: 0x04 + gen + prefix -> namespace IRI
//
// A sync writes a complete new generation, then points the meta record at it,
// then drops the previous generation. A crash before the meta update leaves
// the previous generation in place.
//
// Example:
//
//	syncer, err := persist.Open(persist.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	opts := storage.DefaultOptions()
//	opts.Syncer = syncer
//	store, err := storage.NewMemoryStore(opts)
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/storage"
)

// Errors returned by BadgerSyncer.
var (
	ErrClosed  = errors.New("persist: syncer closed")
	ErrLocked  = errors.New("persist: data directory is locked by another process")
	ErrCorrupt = errors.New("persist: corrupt data")
)

const formatVersion = 1

// meta is the record that names the current generation.
type meta struct {
	Version    int       `json:"version"`
	Generation uint32    `json:"generation"`
	Snapshot   int64     `json:"snapshot"`
	Statements int       `json:"statements"`
	SyncedAt   time.Time `json:"synced_at"`
}

// BadgerOptions configures a BadgerSyncer.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// ReadOnly opens the directory without write access. Any number of
	// read-only openers may share a directory, but not with a writer. A
	// read-only syncer makes its store read-only.
	ReadOnly bool

	// LowMemory shrinks BadgerDB's tables and caches.
	LowMemory bool

	// Logger receives BadgerDB's internal log output at debug level and
	// the syncer's own messages. Nil uses slog.Default.
	Logger *slog.Logger
}

// BadgerSyncer persists store contents in BadgerDB.
type BadgerSyncer struct {
	db   *badger.DB
	opts BadgerOptions
	log  *slog.Logger

	mu         sync.Mutex
	closed     bool
	generation uint32
}

var _ storage.Syncer = (*BadgerSyncer)(nil)

// Open opens (or creates) the BadgerDB directory described by opts.
func Open(opts BadgerOptions) (*BadgerSyncer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger-syncer")

	if opts.DataDir == "" && !opts.InMemory {
		return nil, errors.New("persist: data directory is required")
	}
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(badgerLogger{log: logger})
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.ReadOnly {
		badgerOpts = badgerOpts.WithReadOnly(true)
	}
	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("%w: %s", ErrLocked, opts.DataDir)
		}
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	b := &BadgerSyncer{db: db, opts: opts, log: logger}
	err = db.View(func(txn *badger.Txn) error {
		m, _, err := b.readMeta(txn)
		b.generation = m.Generation
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Writable reports whether the syncer was opened for writing.
func (b *BadgerSyncer) Writable() bool {
	return !b.opts.ReadOnly
}

// Generation returns the generation of the last loaded or synced contents,
// zero if none.
func (b *BadgerSyncer) Generation() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

func (b *BadgerSyncer) readMeta(txn *badger.Txn) (meta, bool, error) {
	var m meta
	item, err := txn.Get(metaKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	if err != nil {
		return m, false, fmt.Errorf("%w: meta record: %v", ErrCorrupt, err)
	}
	if m.Version != formatVersion {
		return m, false, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, m.Version)
	}
	return m, true, nil
}

// Load replays the current generation into sink.
func (b *BadgerSyncer) Load(ctx context.Context, sink storage.LoadSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	var loaded int
	err := b.db.View(func(txn *badger.Txn) error {
		m, ok, err := b.readMeta(txn)
		if err != nil || !ok {
			return err
		}

		terms := make(map[digest]rdf.Value)
		err = iteratePrefix(txn, generationPrefix(prefixValue, m.Generation), func(key, val []byte) error {
			v, err := rdf.ParseTerm(string(val))
			if err != nil {
				return fmt.Errorf("%w: value %q: %v", ErrCorrupt, val, err)
			}
			var d digest
			copy(d[:], key[1+genSize:])
			terms[d] = v
			return nil
		})
		if err != nil {
			return err
		}

		err = iteratePrefix(txn, generationPrefix(prefixStatement, m.Generation), func(key, val []byte) error {
			if loaded%10000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			st, err := decodeStatement(key, terms)
			if err != nil {
				return err
			}
			explicit := len(val) > 0 && val[0]&flagExplicit != 0
			if err := sink.AddStatement(st, explicit); err != nil {
				return err
			}
			loaded++
			return nil
		})
		if err != nil {
			return err
		}

		err = iteratePrefix(txn, generationPrefix(prefixNamespace, m.Generation), func(key, val []byte) error {
			sink.AddNamespace(string(key[1+genSize:]), string(val))
			return nil
		})
		if err != nil {
			return err
		}
		b.generation = m.Generation
		return nil
	})
	if err != nil {
		return err
	}
	b.log.Info("loaded statements", "statements", loaded, "generation", b.generation)
	return nil
}

func decodeStatement(key []byte, terms map[digest]rdf.Value) (rdf.Statement, error) {
	s, p, o, c, ok := decodeStatementKey(key)
	if !ok {
		return rdf.Statement{}, fmt.Errorf("%w: statement key of length %d", ErrCorrupt, len(key))
	}
	subj, ok := terms[s].(rdf.Resource)
	if !ok {
		return rdf.Statement{}, fmt.Errorf("%w: missing or invalid subject", ErrCorrupt)
	}
	pred, ok := terms[p].(rdf.IRI)
	if !ok {
		return rdf.Statement{}, fmt.Errorf("%w: missing or invalid predicate", ErrCorrupt)
	}
	obj, ok := terms[o]
	if !ok {
		return rdf.Statement{}, fmt.Errorf("%w: missing object", ErrCorrupt)
	}
	st := rdf.NewStatement(subj, pred, obj, nil)
	if c != (digest{}) {
		graph, ok := terms[c].(rdf.Resource)
		if !ok {
			return rdf.Statement{}, fmt.Errorf("%w: missing or invalid context", ErrCorrupt)
		}
		st.Context = graph
	}
	return st, nil
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sync writes src as a new generation and makes it current.
func (b *BadgerSyncer) Sync(ctx context.Context, src storage.SyncSource) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.opts.ReadOnly {
		return storage.ErrReadOnly
	}

	gen := b.generation + 1
	// A crashed earlier sync may have left part of this generation behind.
	if err := b.dropGeneration(gen); err != nil {
		return fmt.Errorf("failed to clear generation %d: %w", gen, err)
	}
	written, err := b.writeGeneration(ctx, gen, src)
	if err != nil {
		// Leave the current generation untouched; drop the partial one.
		if dropErr := b.dropGeneration(gen); dropErr != nil {
			b.log.Warn("failed to drop partial generation", "generation", gen, "error", dropErr)
		}
		return err
	}

	m := meta{
		Version:    formatVersion,
		Generation: gen,
		Snapshot:   src.Snapshot(),
		Statements: written,
		SyncedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(), data)
	}); err != nil {
		return fmt.Errorf("failed to write meta record: %w", err)
	}

	previous := b.generation
	b.generation = gen
	if previous != 0 {
		if err := b.dropGeneration(previous); err != nil {
			b.log.Warn("failed to drop previous generation", "generation", previous, "error", err)
		}
	}
	if b.opts.SyncWrites {
		if err := b.db.Sync(); err != nil {
			return err
		}
	}
	b.log.Debug("synced generation", "generation", gen, "snapshot", m.Snapshot, "statements", written)
	return nil
}

func (b *BadgerSyncer) writeGeneration(ctx context.Context, gen uint32, src storage.SyncSource) (int, error) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	c, err := src.Statements(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	seen := make(map[digest]struct{})
	putTerm := func(v rdf.Value) (digest, error) {
		if v == nil {
			return digest{}, nil
		}
		d := termDigest(v)
		if _, ok := seen[d]; ok {
			return d, nil
		}
		seen[d] = struct{}{}
		return d, wb.Set(valueKey(gen, d), []byte(rdf.Canonical(v).String()))
	}

	written := 0
	for c.Next() {
		if written%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}
		ss := c.Item()
		var ds [4]digest
		for i, v := range []rdf.Value{ss.Subject, ss.Predicate, ss.Object, ss.Context} {
			if ds[i], err = putTerm(v); err != nil {
				return written, err
			}
		}
		var flags byte
		if ss.Explicit {
			flags |= flagExplicit
		}
		if err := wb.Set(statementKey(gen, ds[0], ds[1], ds[2], ds[3]), []byte{flags}); err != nil {
			return written, err
		}
		written++
	}
	if err := c.Err(); err != nil {
		return written, err
	}

	for _, ns := range src.Namespaces() {
		if err := wb.Set(namespaceKey(gen, ns.Prefix), []byte(ns.Name)); err != nil {
			return written, err
		}
	}
	if err := wb.Flush(); err != nil {
		return written, fmt.Errorf("failed to write generation %d: %w", gen, err)
	}
	return written, nil
}

func (b *BadgerSyncer) dropGeneration(gen uint32) error {
	return b.db.DropPrefix(
		generationPrefix(prefixValue, gen),
		generationPrefix(prefixStatement, gen),
		generationPrefix(prefixNamespace, gen),
	)
}

// Size returns the approximate size of the database in bytes.
func (b *BadgerSyncer) Size() (lsm, vlog int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, 0
	}
	return b.db.Size()
}

// RunGC runs garbage collection on the BadgerDB value log.
func (b *BadgerSyncer) RunGC() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Close closes the database. Calling Close more than once is a no-op.
func (b *BadgerSyncer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// badgerLogger routes BadgerDB's internal logging to slog. Badger is chatty
// at info level, so everything below warnings is logged at debug.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
