package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/stream"
	"github.com/hookline-dev/hookline/pkg/trigger"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, actionKey string, payload, params map[string]any, userID string) (map[string]any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, actionKey)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return payload, nil
}

func (r *recordingExecutor) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	store    *execution.MemoryStore
	log      *stream.MemoryLog
	source   *router.MemoryInstanceSource
	executor *recordingExecutor
	tracker  *Tracker
	pool     *Pool
	trigger  *trigger.Trigger
	inst     *router.ActionInstance
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	f := &fixture{
		store:    execution.NewMemoryStore(),
		log:      stream.NewMemoryLog(time.Minute),
		executor: &recordingExecutor{},
	}
	f.inst = &router.ActionInstance{
		ID:            "inst-1",
		AreaID:        "area-1",
		UserID:        "u1",
		Provider:      event.ProviderGitHub,
		DefinitionKey: "new_issue",
		Enabled:       true,
		Params:        map[string]any{"channel": "C1"},
		Modes:         []router.ActivationMode{{ID: "mode-1", Type: router.ModeWebhook, Enabled: true}},
	}
	f.source = router.NewMemoryInstanceSource(f.inst)
	f.tracker = NewTracker(workers, f.store, f.log)
	f.trigger = trigger.New(f.store, f.log, nil)
	f.pool = NewPool(Config{
		Size:         workers,
		ConsumerName: "test",
		BlockTimeout: 20 * time.Millisecond,
	}, f.log, f.store, f.source, f.executor, f.tracker, nil, nil)
	return f
}

// run drives the pool until cond holds or the deadline passes, then shuts
// the pool down.
func (f *fixture) run(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.pool.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	require.True(t, cond(), "pool did not reach the expected state in time")
}

func (f *fixture) processed(n int64) func() bool {
	return func() bool { return f.tracker.Snapshot(context.Background()).Processed >= n }
}

func TestPoolExecutesQueuedEntry(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	e, err := f.trigger.Fire(ctx, f.inst, router.ModeWebhook, map[string]any{"title": "x"})
	require.NoError(t, err)

	f.run(t, f.processed(1))

	final, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusOK, final.Status)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, 1, f.executor.callCount())
	assert.Equal(t, []string{"new_issue"}, f.executor.calls)

	// The entry was acked: nothing pending remains.
	info, err := f.log.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Pending)
	assert.Zero(t, info.Backlog)

	snap := f.tracker.Snapshot(ctx)
	assert.Equal(t, int64(1), snap.Succeeded)
	assert.Equal(t, 2, snap.ConfiguredWorkers)
	assert.Zero(t, snap.ActiveWorkers, "workers exited after shutdown")
}

func TestPoolRecordsExecutorFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.executor.err = errors.New("provider 502")
	ctx := context.Background()

	e, err := f.trigger.Fire(ctx, f.inst, router.ModeWebhook, nil)
	require.NoError(t, err)

	f.run(t, f.processed(1))

	final, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, final.Status)
	assert.Equal(t, "provider 502", final.Error)
	assert.Equal(t, int64(1), f.tracker.Snapshot(ctx).Failed)
}

func TestPoolSkipsCanceledExecution(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	e, err := f.trigger.Fire(ctx, f.inst, router.ModeWebhook, nil)
	require.NoError(t, err)

	// Cancel before any worker runs.
	_, ok, err := execution.Cancel(ctx, f.store, e.ID, "user request")
	require.NoError(t, err)
	require.True(t, ok)

	// The entry must still be drained and acked, without a side effect.
	f.run(t, func() bool {
		info, err := f.log.Stats(context.Background())
		return err == nil && info.Pending == 0 && info.Backlog == 0
	})

	assert.Zero(t, f.executor.callCount(), "canceled execution must not dispatch")
	final, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCanceled, final.Status)
}

func TestPoolFailsOnUnknownInstance(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	orphan := &router.ActionInstance{
		ID:      "ghost",
		AreaID:  "area-x",
		Enabled: true,
		Modes:   []router.ActivationMode{{ID: "m", Type: router.ModeWebhook, Enabled: true}},
	}
	e, err := f.trigger.Fire(ctx, orphan, router.ModeWebhook, nil)
	require.NoError(t, err)

	f.run(t, f.processed(1))

	final, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "resolve instance")
	assert.Zero(t, f.executor.callCount())
}

func TestPoolProcessesManyEntriesOnce(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	const n = 20
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e, err := f.trigger.Fire(ctx, f.inst, router.ModeWebhook, nil)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	f.run(t, f.processed(n))

	for _, id := range ids {
		final, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusOK, final.Status)
	}
	assert.Equal(t, n, f.executor.callCount(), "each entry dispatched exactly once")
}

func TestTrackerSnapshotDegradesGracefully(t *testing.T) {
	tr := NewTracker(3, nil, nil)
	snap := tr.Snapshot(context.Background())
	assert.Equal(t, 3, snap.ConfiguredWorkers)
	assert.Nil(t, snap.ByStatus)
	assert.Zero(t, snap.StreamBacklog)
}
