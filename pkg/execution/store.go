package execution

import (
	"context"
	"errors"
)

// ErrNotFound reports an unknown execution id.
var ErrNotFound = errors.New("execution not found")

// ErrConflict reports that a transition's precondition status no longer
// matched the stored one. Callers re-read and decide; the store never
// advances an execution past a state another writer won.
var ErrConflict = errors.New("execution status conflict")

// Store persists executions. Transition is the only mutation after Create
// and carries an optimistic guard: it succeeds only while the stored status
// equals from, so a recovering worker cannot stomp a concurrent
// cancellation.
type Store interface {
	Create(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	// Transition advances id from→to, recording errMsg on FAILED and the
	// started/finished timestamps implied by to. Returns ErrConflict when
	// the stored status is not from, ErrNotFound for unknown ids, and the
	// updated record on success.
	Transition(ctx context.Context, id string, from, to Status, errMsg string) (*Execution, error)
	// CountByStatus aggregates executions per status for the tracker.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Cancel requests CANCELED on an execution while it is still QUEUED or
// RUNNING. It returns the final record, reporting whether the cancellation
// won; terminal executions come back unchanged with ok=false.
func Cancel(ctx context.Context, s Store, id, reason string) (*Execution, bool, error) {
	for _, from := range []Status{StatusQueued, StatusRunning} {
		e, err := s.Transition(ctx, id, from, StatusCanceled, reason)
		if err == nil {
			return e, true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, false, err
		}
	}
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return e, false, nil
}
