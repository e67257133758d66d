package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore is the production Store. The transition guard is a single
// UPDATE with the expected status in the WHERE clause, so concurrent writers
// serialize on the row and only one advance wins.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db. The executions table is managed
// by migrations; see Migrate for the reference schema.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the executions table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		action_instance_id TEXT NOT NULL,
		activation_mode_id TEXT NOT NULL,
		area_id TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL,
		queued_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		error TEXT NOT NULL DEFAULT ''
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, e *Execution) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO executions (id, action_instance_id, activation_mode_id, area_id, correlation_id, payload, status, queued_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '')
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.ActionInstanceID, e.ActivationModeID, e.AreaID, e.CorrelationID,
		payloadJSON, string(e.Status), e.QueuedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, action_instance_id, activation_mode_id, area_id, correlation_id, payload, status, queued_at, started_at, finished_at, error
		FROM executions WHERE id = $1
	`
	return scanExecution(s.db.QueryRowContext(ctx, query, id))
}

// Transition implements Store.
func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, errMsg string) (*Execution, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s→%s: %w", from, to, ErrConflict)
	}

	now := time.Now().UTC()
	query := `
		UPDATE executions
		SET status = $1,
		    started_at = CASE WHEN $1 = 'RUNNING' THEN $2 ELSE started_at END,
		    finished_at = CASE WHEN $1 IN ('OK', 'FAILED', 'CANCELED') THEN $2 ELSE finished_at END,
		    error = CASE WHEN $5 <> '' THEN $5 ELSE error END
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, string(to), now, id, string(from), errMsg)
	if err != nil {
		return nil, fmt.Errorf("transition execution %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a lost race from an unknown id.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return s.Get(ctx, id)
}

// CountByStatus implements Store.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e           Execution
		status      string
		payloadJSON []byte
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)
	err := row.Scan(&e.ID, &e.ActionInstanceID, &e.ActivationModeID, &e.AreaID,
		&e.CorrelationID, &payloadJSON, &status, &e.QueuedAt, &startedAt, &finishedAt, &e.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload JSON for execution %s: %w", e.ID, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		e.FinishedAt = &t
	}
	return &e, nil
}
