package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs single-node deployments that run without Postgres.
// Timestamps are stored as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		action_instance_id TEXT NOT NULL,
		activation_mode_id TEXT NOT NULL,
		area_id TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL,
		payload JSON,
		status TEXT NOT NULL,
		queued_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		error TEXT NOT NULL DEFAULT ''
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, e *Execution) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO executions (id, action_instance_id, activation_mode_id, area_id, correlation_id, payload, status, queued_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.ActionInstanceID, e.ActivationModeID, e.AreaID, e.CorrelationID,
		string(payloadJSON), string(e.Status), e.QueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, action_instance_id, activation_mode_id, area_id, correlation_id, payload, status, queued_at, started_at, finished_at, error
		FROM executions WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	var (
		e           Execution
		status      string
		payloadJSON sql.NullString
		queuedAt    string
		startedAt   sql.NullString
		finishedAt  sql.NullString
	)
	err := row.Scan(&e.ID, &e.ActionInstanceID, &e.ActivationModeID, &e.AreaID,
		&e.CorrelationID, &payloadJSON, &status, &queuedAt, &startedAt, &finishedAt, &e.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	e.QueuedAt = parseSQLiteTime(queuedAt)
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload JSON for execution %s: %w", e.ID, err)
		}
	}
	if startedAt.Valid {
		t := parseSQLiteTime(startedAt.String)
		e.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseSQLiteTime(finishedAt.String)
		e.FinishedAt = &t
	}
	return &e, nil
}

// Transition implements Store with the same optimistic guard as Postgres.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to Status, errMsg string) (*Execution, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s→%s: %w", from, to, ErrConflict)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
		UPDATE executions
		SET status = ?,
		    started_at = CASE WHEN ? = 'RUNNING' THEN ? ELSE started_at END,
		    finished_at = CASE WHEN ? IN ('OK', 'FAILED', 'CANCELED') THEN ? ELSE finished_at END,
		    error = CASE WHEN ? <> '' THEN ? ELSE error END
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(to), string(to), now, string(to), now, errMsg, errMsg, id, string(from))
	if err != nil {
		return nil, fmt.Errorf("transition execution %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return s.Get(ctx, id)
}

// CountByStatus implements Store.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func parseSQLiteTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
