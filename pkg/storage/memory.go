package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/quadstore/pkg/cache"
	"github.com/orneryd/quadstore/pkg/cursor"
	"github.com/orneryd/quadstore/pkg/lock"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
)

// Syncer persists the store's contents. The store calls Load once during
// Initialize and Sync whenever contents changed, according to
// Options.SyncDelay, and finally during Shutdown.
type Syncer interface {
	// Load replays persisted statements and namespaces into sink.
	Load(ctx context.Context, sink LoadSink) error
	// Sync replaces the persisted contents with what src yields.
	Sync(ctx context.Context, src SyncSource) error
	// Writable reports whether Sync may be called. A syncer that could not
	// acquire exclusive access to its storage makes the store read-only.
	Writable() bool
	Close() error
}

// LoadSink receives persisted contents during Initialize.
type LoadSink interface {
	AddStatement(st rdf.Statement, explicit bool) error
	AddNamespace(prefix, name string)
}

// SyncSource exposes the committed contents to a Syncer.
type SyncSource interface {
	// Snapshot is the snapshot the statements are read at.
	Snapshot() int64
	// Statements yields every statement visible at Snapshot, explicit and
	// inferred.
	Statements(ctx context.Context) (cursor.Cursor[StoredStatement], error)
	Namespaces() []rdf.Namespace
}

// Options configures a MemoryStore.
type Options struct {
	// Syncer persists contents. Nil keeps the store purely in memory.
	Syncer Syncer
	// SyncDelay controls when changes are synced: 0 syncs at every commit,
	// a positive delay batches commits within that window, and a negative
	// value syncs only on Shutdown.
	SyncDelay time.Duration
	// AutoCleanup runs snapshot cleanup in the background after commits and
	// rollbacks. Without it, call CleanSnapshots explicitly.
	AutoCleanup bool
	// CleanupMinInterval is the minimum time between two background
	// cleanup passes. Triggers arriving sooner are coalesced.
	CleanupMinInterval time.Duration
	// ShutdownGrace bounds how long Shutdown waits for connections and
	// cursors to be closed by their owners before closing them itself.
	ShutdownGrace time.Duration
	// SizeCache is the number of Size results kept per store. Results are
	// keyed by snapshot, so commits never invalidate them. 0 disables it.
	SizeCache int
	Logger    *slog.Logger
	// Registerer receives the store's metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// DefaultOptions returns options for a purely in-memory store with
// background cleanup.
func DefaultOptions() Options {
	return Options{
		AutoCleanup:        true,
		CleanupMinInterval: 100 * time.Millisecond,
		ShutdownGrace:      20 * time.Second,
		SizeCache:          256,
	}
}

const (
	stateNew uint32 = iota
	stateOpen
	stateClosed
)

// MemoryStore is the in-memory, multi-version statement store.
//
// Concurrency:
//   - Any number of goroutines may read (Match and friends) concurrently.
//   - One transaction at a time holds the transaction lock (Begin).
//   - Reads and transaction work share the statement-list lock; only
//     snapshot cleanup takes it exclusively.
//
// Every cursor returned by the store holds the shared statement-list lock
// until closed. Forgetting to close a cursor blocks cleanup until Shutdown.
type MemoryStore struct {
	opts    Options
	log     *slog.Logger
	metrics *Metrics

	mu    sync.Mutex // serializes Initialize and Shutdown
	state atomic.Uint32

	values     *ValueFactory
	index      *StatementIndex
	sizes      *cache.SnapshotCache[int]
	snapshot   atomic.Int64
	namespaces *namespaceTable

	stLock  lock.ReadPrefRWLock
	txnLock *lock.ExclusiveLock

	// lifetime ends when background work must stop. closing ends as soon as
	// Shutdown starts, interrupting callers blocked in Begin.
	lifetime      context.Context
	cancel        context.CancelFunc
	closing       context.Context
	cancelClosing context.CancelFunc
	wg            sync.WaitGroup
	cleaner       *snapshotCleaner

	syncMu          sync.Mutex
	contentsChanged atomic.Bool
	syncTimerMu     sync.Mutex
	syncTimer       *time.Timer

	cursorsMu sync.Mutex
	cursorSeq uint64
	cursors   map[uint64]cursor.ForceCloser

	connections *sail.ConnectionTracker

	listeners listenerSet[StoreListener]
}

var _ sail.Sail = (*MemoryStore)(nil)

// NewMemoryStore creates an uninitialized store. Call Initialize before use.
func NewMemoryStore(opts Options) (*MemoryStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("storage: registering metrics: %w", err)
	}
	s := &MemoryStore{
		opts:        opts,
		log:         logger.With("component", "memory-store"),
		metrics:     metrics,
		values:      NewValueFactory(),
		index:       NewStatementIndex(),
		namespaces:  newNamespaceTable(),
		txnLock:     lock.NewExclusiveLock(),
		cursors:     make(map[uint64]cursor.ForceCloser),
		connections: sail.NewConnectionTracker(logger),
	}
	if opts.SizeCache > 0 {
		s.sizes = cache.NewSnapshotCache[int](opts.SizeCache)
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	s.closing, s.cancelClosing = context.WithCancel(context.Background())
	return s, nil
}

// Initialize loads persisted contents, if any, and starts background work.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Load() {
	case stateOpen:
		return ErrAlreadyInitialized
	case stateClosed:
		return ErrStoreClosed
	}

	if s.opts.Syncer != nil {
		if err := s.opts.Syncer.Load(ctx, storeLoader{s}); err != nil {
			return fmt.Errorf("storage: loading persisted contents: %w", err)
		}
		s.log.Info("loaded persisted contents",
			"statements", s.index.Len(),
			"namespaces", len(s.namespaces.list()),
			"writable", s.opts.Syncer.Writable())
	}
	s.metrics.IndexedStatements.Set(float64(s.index.Len()))
	s.metrics.Snapshot.Set(float64(s.snapshot.Load()))

	if s.opts.AutoCleanup {
		s.cleaner = newSnapshotCleaner(s, s.opts.CleanupMinInterval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleaner.run(s.lifetime)
		}()
	}

	s.state.Store(stateOpen)
	s.log.Debug("store initialized", "snapshot", s.snapshot.Load(), "auto_cleanup", s.opts.AutoCleanup)
	return nil
}

// Shutdown closes open connections and cursors, stops background work and
// performs a final sync. Connections and cursors still open after
// Options.ShutdownGrace (or when ctx ends) are force-closed with a warning.
// Calling Shutdown on a store that is not open is a no-op.
func (s *MemoryStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(stateOpen, stateClosed) {
		return nil
	}
	s.cancelClosing()

	graceCtx := ctx
	if s.opts.ShutdownGrace > 0 {
		var cancel context.CancelFunc
		graceCtx, cancel = context.WithTimeout(ctx, s.opts.ShutdownGrace)
		defer cancel()
	}

	var errs []error
	if err := s.connections.CloseAll(graceCtx); err != nil {
		errs = append(errs, fmt.Errorf("storage: closing connections: %w", err))
	}

	s.cancel()
	s.wg.Wait()
	s.syncTimerMu.Lock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
		s.syncTimer = nil
	}
	s.syncTimerMu.Unlock()

	if err := s.stLock.WaitForActiveLocks(graceCtx); err != nil {
		s.forceCloseCursors()
	}
	if s.txnLock.IsLocked() {
		s.log.Warn("transaction still active at shutdown; its changes will not be synced")
	}

	if s.opts.Syncer != nil {
		if err := s.sync(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.opts.Syncer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: closing syncer: %w", err))
		}
	}
	s.log.Debug("store shut down", "snapshot", s.snapshot.Load())
	return errors.Join(errs...)
}

func (s *MemoryStore) checkOpen() error {
	switch s.state.Load() {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrStoreClosed
	default:
		return ErrNotInitialized
	}
}

// IsWritable reports whether transactions can be started.
func (s *MemoryStore) IsWritable() bool {
	return s.opts.Syncer == nil || s.opts.Syncer.Writable()
}

// CurrentSnapshot returns the latest committed snapshot.
func (s *MemoryStore) CurrentSnapshot() int64 {
	return s.snapshot.Load()
}

// ValueFactory returns the store's interner.
func (s *MemoryStore) ValueFactory() *ValueFactory {
	return s.values
}

// Begin starts a transaction, blocking while another one is active. The wait
// ends early when ctx ends or the store starts shutting down.
func (s *MemoryStore) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closing, cancel)
	defer stop()

	l, err := s.txnLock.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	if err := s.checkOpen(); err != nil {
		l.Release()
		return nil, err
	}
	return newTransaction(s, l), nil
}

// TryBegin starts a transaction only if none is active, failing with
// ErrTransactionActive otherwise.
func (s *MemoryStore) TryBegin() (*Transaction, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	l, ok := s.txnLock.TryLock()
	if !ok {
		return nil, ErrTransactionActive
	}
	return newTransaction(s, l), nil
}

func (s *MemoryStore) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.IsWritable() {
		return ErrReadOnly
	}
	return nil
}

// Match returns the statements matching p at snapshot. A negative snapshot
// (sail.Latest) means the current one. Unknown terms in p are not an error:
// the cursor is simply empty.
//
// The cursor holds the shared statement-list lock until closed.
func (s *MemoryStore) Match(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[*MemStatement], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if snapshot < 0 {
		snapshot = s.CurrentSnapshot()
	}
	return s.match(ctx, p, explicitOnly, snapshot, ReadCommitted)
}

func (s *MemoryStore) match(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64, mode ReadMode) (cursor.Cursor[*MemStatement], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	l, err := s.stLock.RLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: match: %w", err)
	}
	var c cursor.Cursor[*MemStatement]
	if rp, ok := s.resolve(p); ok {
		c = s.newStatementCursor(rp, explicitOnly, snapshot, mode)
	} else {
		c = cursor.Empty[*MemStatement]()
	}
	return trackCursor(s, cursor.Locking(l, c)), nil
}

// MatchStatements is Match returning plain RDF statements.
func (s *MemoryStore) MatchStatements(ctx context.Context, p rdf.Pattern, explicitOnly bool, snapshot int64) (cursor.Cursor[rdf.Statement], error) {
	c, err := s.Match(ctx, p, explicitOnly, snapshot)
	if err != nil {
		return nil, err
	}
	return cursor.Map(c, (*MemStatement).Statement), nil
}

// Statements is a full scan of every statement visible at snapshot,
// explicit and inferred.
func (s *MemoryStore) Statements(ctx context.Context, snapshot int64) (cursor.Cursor[*MemStatement], error) {
	return s.Match(ctx, rdf.Pattern{}, false, snapshot)
}

// Size counts explicit statements at the current snapshot, restricted to
// contexts when any are given.
func (s *MemoryStore) Size(ctx context.Context, contexts ...rdf.Resource) (int, error) {
	snapshot := s.CurrentSnapshot()
	var key string
	if s.sizes != nil {
		parts := make([]string, len(contexts))
		for i, c := range contexts {
			if c != nil {
				parts[i] = c.String()
			}
		}
		key = cache.Key(snapshot, parts...)
		if n, ok := s.sizes.Get(key); ok {
			return n, nil
		}
	}
	c, err := s.Match(ctx, rdf.Pattern{Contexts: contexts}, true, snapshot)
	if err != nil {
		return 0, err
	}
	n, err := cursor.Count(c)
	if err != nil {
		return 0, err
	}
	if s.sizes != nil {
		s.sizes.Put(key, n)
	}
	return n, nil
}

// trackCursor registers c so Shutdown can force-close it.
func trackCursor[T any](s *MemoryStore, c cursor.Cursor[T]) cursor.Cursor[T] {
	s.cursorsMu.Lock()
	s.cursorSeq++
	id := s.cursorSeq
	tracked := cursor.OnClose(c, func() {
		s.cursorsMu.Lock()
		delete(s.cursors, id)
		s.cursorsMu.Unlock()
		s.metrics.OpenCursors.Dec()
	})
	s.cursors[id] = tracked.(cursor.ForceCloser)
	s.cursorsMu.Unlock()
	s.metrics.OpenCursors.Inc()
	return tracked
}

func (s *MemoryStore) forceCloseCursors() {
	s.cursorsMu.Lock()
	open := make([]cursor.ForceCloser, 0, len(s.cursors))
	for _, c := range s.cursors {
		open = append(open, c)
	}
	s.cursorsMu.Unlock()

	for _, c := range open {
		s.log.Warn("closing cursor that was not closed by its owner")
		if err := c.ForceClose(); err != nil {
			s.log.Warn("error force-closing cursor", "error", err)
		}
	}
}

// findStatement returns the statement with exactly these components that is
// visible at snapshot in the given mode. The caller holds the statement-list
// lock.
func (s *MemoryStore) findStatement(subj, pred, obj, ctx *MemValue, snapshot int64, mode ReadMode) *MemStatement {
	rp := resolvedPattern{subject: subj, predicate: pred, object: obj, contexts: []*MemValue{ctx}}
	c := s.newStatementCursor(rp, false, snapshot, mode)
	defer c.Close()
	if c.Next() {
		return c.Item()
	}
	return nil
}

// Connection opens a tracked connection. The returned connection is safe for
// concurrent use.
func (s *MemoryStore) Connection() (sail.InferencerConnection, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.connections.Track(sail.Synchronize(newMemoryConnection(s))), nil
}

// SetNamespace binds prefix to name.
func (s *MemoryStore) SetNamespace(prefix, name string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if s.namespaces.set(prefix, name) {
		s.contentsChanged.Store(true)
		s.scheduleSync()
	}
	return nil
}

// Namespace returns the namespace bound to prefix.
func (s *MemoryStore) Namespace(prefix string) (string, bool) {
	return s.namespaces.get(prefix)
}

// RemoveNamespace removes the binding for prefix, if any.
func (s *MemoryStore) RemoveNamespace(prefix string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if s.namespaces.remove(prefix) {
		s.contentsChanged.Store(true)
		s.scheduleSync()
	}
	return nil
}

// ClearNamespaces removes every namespace binding.
func (s *MemoryStore) ClearNamespaces() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if s.namespaces.clear() {
		s.contentsChanged.Store(true)
		s.scheduleSync()
	}
	return nil
}

// Namespaces returns all bindings sorted by prefix.
func (s *MemoryStore) Namespaces() []rdf.Namespace {
	return s.namespaces.list()
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Snapshot          int64 `json:"snapshot"`
	IndexedStatements int   `json:"indexed_statements"`
	DeprecatedPending int   `json:"deprecated_pending"`
	Values            int   `json:"values"`
	Namespaces        int   `json:"namespaces"`
	OpenCursors       int   `json:"open_cursors"`
	OpenConnections   int   `json:"open_connections"`
	Writable          bool  `json:"writable"`
	// SizeCache is nil when the size cache is disabled.
	SizeCache *cache.Stats `json:"size_cache,omitempty"`
}

// Stats returns counters describing the store.
func (s *MemoryStore) Stats() Stats {
	s.cursorsMu.Lock()
	openCursors := len(s.cursors)
	s.cursorsMu.Unlock()
	var sizeCache *cache.Stats
	if s.sizes != nil {
		st := s.sizes.Stats()
		sizeCache = &st
	}
	return Stats{
		Snapshot:          s.CurrentSnapshot(),
		IndexedStatements: s.index.Len(),
		DeprecatedPending: s.index.Deprecated(),
		Values:            s.values.Len(),
		Namespaces:        len(s.namespaces.list()),
		OpenCursors:       openCursors,
		OpenConnections:   s.connections.Len(),
		Writable:          s.IsWritable(),
		SizeCache:         sizeCache,
	}
}

// ============================================================================
// Persistence
// ============================================================================

// Sync writes the committed contents to the syncer if they changed since the
// last successful sync.
func (s *MemoryStore) Sync(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.sync(ctx)
}

func (s *MemoryStore) sync(ctx context.Context) error {
	if s.opts.Syncer == nil || !s.opts.Syncer.Writable() {
		return nil
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if !s.contentsChanged.Swap(false) {
		return nil
	}
	start := time.Now()
	if err := s.opts.Syncer.Sync(ctx, storeSource{s: s, snapshot: s.CurrentSnapshot()}); err != nil {
		s.contentsChanged.Store(true)
		s.metrics.SyncErrors.Inc()
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	s.metrics.Syncs.Inc()
	s.log.Info("synced store", "snapshot", s.CurrentSnapshot(), "duration", time.Since(start))
	return nil
}

// scheduleSync applies Options.SyncDelay after a change.
func (s *MemoryStore) scheduleSync() {
	if s.opts.Syncer == nil {
		return
	}
	switch {
	case s.opts.SyncDelay == 0:
		if err := s.sync(s.lifetime); err != nil {
			s.log.Error("sync after commit failed", "error", err)
		}
	case s.opts.SyncDelay > 0:
		s.syncTimerMu.Lock()
		defer s.syncTimerMu.Unlock()
		if s.syncTimer != nil || s.state.Load() != stateOpen {
			return
		}
		s.syncTimer = time.AfterFunc(s.opts.SyncDelay, func() {
			s.syncTimerMu.Lock()
			s.syncTimer = nil
			s.syncTimerMu.Unlock()
			if err := s.sync(s.lifetime); err != nil && s.lifetime.Err() == nil {
				s.log.Error("delayed sync failed", "error", err)
			}
		})
	}
}

// storeLoader feeds persisted contents into a store that is being
// initialized. Statements become visible at the current snapshot.
type storeLoader struct{ s *MemoryStore }

func (l storeLoader) AddStatement(st rdf.Statement, explicit bool) error {
	if st.Subject == nil || st.Object == nil {
		return fmt.Errorf("storage: incomplete persisted statement %v", st)
	}
	s := l.s
	subj := s.values.InternResource(st.Subject)
	pred := s.values.Intern(st.Predicate)
	obj := s.values.Intern(st.Object)
	ctx := s.values.InternResource(st.Context)
	snapshot := s.snapshot.Load()
	if existing := s.findStatement(subj, pred, obj, ctx, snapshot, ReadRaw); existing != nil {
		if explicit {
			existing.setExplicit(true)
		}
		return nil
	}
	s.index.append(subj, pred, obj, ctx, explicit, snapshot, TxnNeutral)
	return nil
}

func (l storeLoader) AddNamespace(prefix, name string) {
	l.s.namespaces.set(prefix, name)
}

// storeSource reads committed contents at a fixed snapshot for a Syncer.
type storeSource struct {
	s        *MemoryStore
	snapshot int64
}

func (src storeSource) Snapshot() int64 { return src.snapshot }

func (src storeSource) Statements(ctx context.Context) (cursor.Cursor[StoredStatement], error) {
	c, err := src.s.match(ctx, rdf.Pattern{}, false, src.snapshot, ReadCommitted)
	if err != nil {
		return nil, err
	}
	return cursor.Map(c, func(st *MemStatement) StoredStatement {
		return StoredStatement{Statement: st.Statement(), Explicit: st.Explicit()}
	}), nil
}

func (src storeSource) Namespaces() []rdf.Namespace { return src.s.namespaces.list() }
