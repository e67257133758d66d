package worker

import (
	"context"
	"sync"

	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/stream"
)

// Tracker aggregates liveness and throughput across the pool. It observes;
// it never mutates execution or stream state.
type Tracker struct {
	mu         sync.Mutex
	configured int
	active     int
	processed  int64
	succeeded  int64
	failed     int64
	canceled   int64

	store execution.Store
	log   stream.Log
}

// Snapshot is a point-in-time view for the operator endpoints.
type Snapshot struct {
	ActiveWorkers     int                        `json:"active_workers"`
	ConfiguredWorkers int                        `json:"configured_workers"`
	Processed         int64                      `json:"processed"`
	Succeeded         int64                      `json:"succeeded"`
	Failed            int64                      `json:"failed"`
	Canceled          int64                      `json:"canceled"`
	ByStatus          map[execution.Status]int64 `json:"by_status"`
	StreamBacklog     int64                      `json:"stream_backlog"`
}

// NewTracker creates a tracker deriving status counts from store and backlog
// from log.
func NewTracker(configured int, store execution.Store, log stream.Log) *Tracker {
	return &Tracker{configured: configured, store: store, log: log}
}

func (t *Tracker) workerStarted() {
	t.mu.Lock()
	t.active++
	t.mu.Unlock()
}

func (t *Tracker) workerStopped() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
}

func (t *Tracker) recordOutcome(status execution.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	switch status {
	case execution.StatusOK:
		t.succeeded++
	case execution.StatusFailed:
		t.failed++
	case execution.StatusCanceled:
		t.canceled++
	}
}

// ActiveWorkers returns the number of live worker loops.
func (t *Tracker) ActiveWorkers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Snapshot implements the operator view. Store and log errors degrade the
// snapshot rather than failing it: liveness reporting must not depend on
// every backend being reachable.
func (t *Tracker) Snapshot(ctx context.Context) *Snapshot {
	t.mu.Lock()
	snap := &Snapshot{
		ActiveWorkers:     t.active,
		ConfiguredWorkers: t.configured,
		Processed:         t.processed,
		Succeeded:         t.succeeded,
		Failed:            t.failed,
		Canceled:          t.canceled,
	}
	t.mu.Unlock()

	if t.store != nil {
		if counts, err := t.store.CountByStatus(ctx); err == nil {
			snap.ByStatus = counts
		}
	}
	if t.log != nil {
		if backlog, err := t.log.Backlog(ctx); err == nil {
			snap.StreamBacklog = backlog
		}
	}
	return snap
}
