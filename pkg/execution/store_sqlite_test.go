package execution

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// modernc.org/sqlite serializes on a single connection; in-memory
	// databases vanish per connection otherwise.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	e := newQueued("e1")
	e.Payload = map[string]any{"text": "hi"}
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "hi", got.Payload["text"])
	assert.Nil(t, got.StartedAt)
	assert.WithinDuration(t, e.QueuedAt, got.QueuedAt, time.Millisecond)

	running, err := store.Transition(ctx, "e1", StatusQueued, StatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	failed, err := store.Transition(ctx, "e1", StatusRunning, StatusFailed, "boom")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
	require.NotNil(t, failed.FinishedAt)

	_, err = store.Transition(ctx, "e1", StatusRunning, StatusOK, "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Transition(ctx, "missing", StatusQueued, StatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreCountByStatus(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.Create(ctx, newQueued(id)))
	}
	_, err := store.Transition(ctx, "a", StatusQueued, StatusCanceled, "x")
	require.NoError(t, err)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusQueued])
	assert.Equal(t, int64(1), counts[StatusCanceled])
}
