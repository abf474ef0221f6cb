package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// snapshotCleaner reaps obsolete statements in the background.
//
// Commits and rollbacks call schedule; requests that arrive while a pass is
// pending or running collapse into one. The limiter spaces passes at least
// minInterval apart, because each pass holds the statement-list lock
// exclusively.
type snapshotCleaner struct {
	store   *MemoryStore
	trigger chan struct{}
	limiter *rate.Limiter
}

func newSnapshotCleaner(s *MemoryStore, minInterval time.Duration) *snapshotCleaner {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &snapshotCleaner{
		store:   s,
		trigger: make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *snapshotCleaner) schedule() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// run processes cleanup requests until ctx ends. Failed passes are logged
// and retried on the next request.
func (c *snapshotCleaner) run(ctx context.Context) {
	log := c.store.log.With("component", "snapshot-cleaner")
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := c.store.cleanSnapshots(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			log.Warn("snapshot cleanup failed", "error", err)
		}
	}
}

func (s *MemoryStore) scheduleCleanup() {
	if s.cleaner != nil {
		s.cleaner.schedule()
	}
}

// CleanSnapshots synchronously reaps every statement that is no longer
// visible at the current snapshot or any later one, and returns how many
// were removed. It waits for all open cursors to be closed; ctx bounds the
// wait.
func (s *MemoryStore) CleanSnapshots(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.cleanSnapshots(ctx)
}

func (s *MemoryStore) cleanSnapshots(ctx context.Context) (int, error) {
	l, err := s.stLock.Lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: snapshot cleanup: %w", err)
	}
	defer l.Release()

	start := time.Now()
	current := s.CurrentSnapshot()
	var dead []StatementID
	for _, st := range s.index.Statements() {
		if st.Till() <= current {
			dead = append(dead, st.id)
		}
	}
	reaped := s.index.Reap(dead...)
	elapsed := time.Since(start)

	s.metrics.CleanupRuns.Inc()
	s.metrics.StatementsReaped.Add(float64(reaped))
	s.metrics.CleanupDuration.Observe(elapsed.Seconds())
	s.metrics.IndexedStatements.Set(float64(s.index.Len()))
	s.log.Debug("snapshot cleanup finished", "snapshot", current, "reaped", reaped, "duration", elapsed)
	return reaped, nil
}
