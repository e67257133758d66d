package execution

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executionColumns() []string {
	return []string{"id", "action_instance_id", "activation_mode_id", "area_id",
		"correlation_id", "payload", "status", "queued_at", "started_at", "finished_at", "error"}
}

func TestPostgresStoreCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WithArgs("e1", "inst-1", "mode-1", "area-1", "corr-1",
			sqlmock.AnyArg(), "QUEUED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := newQueued("e1")
	e.Payload = map[string]any{"text": "hi"}
	err = store.Create(context.Background(), e)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	queued := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_instance_id")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(executionColumns()).
			AddRow("e1", "inst-1", "mode-1", "area-1", "corr-1",
				[]byte(`{"text":"hi"}`), "QUEUED", queued, nil, nil, ""))

	e, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, "hi", e.Payload["text"])
	assert.Nil(t, e.StartedAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_instance_id")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(executionColumns()))

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	queued := time.Now().UTC()
	started := queued.Add(time.Second)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE executions")).
		WithArgs("RUNNING", sqlmock.AnyArg(), "e1", "QUEUED", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_instance_id")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(executionColumns()).
			AddRow("e1", "inst-1", "mode-1", "area-1", "corr-1",
				nil, "RUNNING", queued, started, nil, ""))

	e, err := store.Transition(context.Background(), "e1", StatusQueued, StatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, e.Status)
	require.NotNil(t, e.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTransitionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	queued := time.Now().UTC()

	// Zero rows updated and the row exists: another writer won.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE executions")).
		WithArgs("RUNNING", sqlmock.AnyArg(), "e1", "QUEUED", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_instance_id")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(executionColumns()).
			AddRow("e1", "inst-1", "mode-1", "area-1", "corr-1",
				nil, "CANCELED", queued, nil, queued, "user request"))

	_, err = store.Transition(context.Background(), "e1", StatusQueued, StatusRunning, "")
	assert.ErrorIs(t, err, ErrConflict)

	// Zero rows updated and no row at all: unknown id.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE executions")).
		WithArgs("RUNNING", sqlmock.AnyArg(), "missing", "QUEUED", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_instance_id")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(executionColumns()))

	_, err = store.Transition(context.Background(), "missing", StatusQueued, StatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTransitionIllegal(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	_, err = store.Transition(context.Background(), "e1", StatusOK, StatusRunning, "")
	assert.ErrorIs(t, err, ErrConflict, "illegal transitions are rejected before touching the database")
}

func TestPostgresStoreCountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM executions GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("QUEUED", 3).
			AddRow("OK", 7))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[StatusQueued])
	assert.Equal(t, int64(7), counts[StatusOK])
	assert.NoError(t, mock.ExpectationsWereMet())
}
