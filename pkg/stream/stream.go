// Package stream is the durable, ordered handoff between the ingestion path
// and the worker pool: an append-only log consumed through a named consumer
// group with at-least-once redelivery.
package stream

import (
	"context"
	"time"
)

// Entry is the persisted representation of an execution handoff.
type Entry struct {
	// ID is the log-assigned entry id, set when the entry is claimed.
	ID               string         `json:"id,omitempty"`
	ExecutionID      string         `json:"execution_id"`
	ActionInstanceID string         `json:"action_instance_id"`
	AreaID           string         `json:"area_id"`
	Payload          map[string]any `json:"payload,omitempty"`
	EnqueuedAt       time.Time      `json:"enqueued_at"`
}

// Info is a point-in-time snapshot of the log for operators.
type Info struct {
	Stream  string `json:"stream"`
	Group   string `json:"group"`
	Length  int64  `json:"length"`
	Pending int64  `json:"pending"`
	// Backlog is the number of appended-but-undelivered entries.
	Backlog int64 `json:"backlog"`
}

// Log is the durable-log contract. Entries are appended in arrival order;
// each is delivered to one consumer of the group at a time and becomes
// eligible for redelivery if unacknowledged past the visibility timeout.
type Log interface {
	// Initialize (re)creates the log and its consumer group idempotently.
	Initialize(ctx context.Context) error
	// Publish appends an entry. Fire-and-forget from the ingestion path's
	// perspective: it never waits on consumers.
	Publish(ctx context.Context, e *Entry) error
	// Claim blocks up to block for an entry, preferring redelivery of
	// entries whose visibility timeout lapsed. Returns (nil, nil) when the
	// timeout elapses with nothing to deliver.
	Claim(ctx context.Context, consumer string, block time.Duration) (*Entry, error)
	// Ack acknowledges a claimed entry. Workers call it only after the
	// execution reached a terminal status.
	Ack(ctx context.Context, id string) error
	// Backlog counts appended-but-undelivered entries.
	Backlog(ctx context.Context) (int64, error)
	// Stats returns the operator snapshot.
	Stats(ctx context.Context) (*Info, error)
}
