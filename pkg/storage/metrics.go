package storage

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the store's Prometheus collectors. Every store has its own set;
// they are registered only when Options.Registerer is non-nil.
type Metrics struct {
	Commits           prometheus.Counter
	Rollbacks         prometheus.Counter
	StatementsAdded   prometheus.Counter
	StatementsRemoved prometheus.Counter
	Snapshot          prometheus.Gauge
	IndexedStatements prometheus.Gauge
	OpenCursors       prometheus.Gauge
	CleanupRuns       prometheus.Counter
	StatementsReaped  prometheus.Counter
	CleanupDuration   prometheus.Histogram
	Syncs             prometheus.Counter
	SyncErrors        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil. Collectors already registered by an earlier store are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const ns, sub = "quadstore", "store"
	m := &Metrics{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "commits_total",
			Help: "Committed transactions.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "rollbacks_total",
			Help: "Rolled back transactions.",
		}),
		StatementsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "statements_added_total",
			Help: "Statements made visible by commits.",
		}),
		StatementsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "statements_removed_total",
			Help: "Statements deprecated by commits.",
		}),
		Snapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "snapshot",
			Help: "Current snapshot number.",
		}),
		IndexedStatements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "indexed_statements",
			Help: "Statements held by the index, including ones awaiting cleanup.",
		}),
		OpenCursors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "open_cursors",
			Help: "Cursors currently holding the statement-list lock.",
		}),
		CleanupRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cleanup", Name: "runs_total",
			Help: "Completed snapshot cleanup passes.",
		}),
		StatementsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cleanup", Name: "statements_reaped_total",
			Help: "Statements physically removed by cleanup.",
		}),
		CleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "cleanup", Name: "duration_seconds",
			Help:    "Time spent holding the exclusive statement-list lock.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sync", Name: "runs_total",
			Help: "Successful syncs to the persistence backend.",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sync", Name: "errors_total",
			Help: "Failed syncs to the persistence backend.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector, nil
			}
			return nil, err
		}
		return c, nil
	}
	for _, field := range []*prometheus.Counter{
		&m.Commits, &m.Rollbacks, &m.StatementsAdded, &m.StatementsRemoved,
		&m.CleanupRuns, &m.StatementsReaped, &m.Syncs, &m.SyncErrors,
	} {
		c, err := register(*field)
		if err != nil {
			return nil, err
		}
		*field = c.(prometheus.Counter)
	}
	for _, field := range []*prometheus.Gauge{&m.Snapshot, &m.IndexedStatements, &m.OpenCursors} {
		c, err := register(*field)
		if err != nil {
			return nil, err
		}
		*field = c.(prometheus.Gauge)
	}
	c, err := register(m.CleanupDuration)
	if err != nil {
		return nil, err
	}
	m.CleanupDuration = c.(prometheus.Histogram)
	return m, nil
}
