// Package execution holds the authoritative record of each attempted
// automation run and its status machine.
package execution

import "time"

// Status is the execution lifecycle state.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusOK       Status = "OK"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusOK, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether from→to is a legal advance. Transitions are
// monotonic: terminal states are frozen, CANCELED is reachable only from
// QUEUED or RUNNING.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusQueued:
		// QUEUED→FAILED covers executions whose stream entry could not be
		// published; they never get a worker.
		return to == StatusRunning || to == StatusCanceled || to == StatusFailed
	case StatusRunning:
		return to == StatusOK || to == StatusFailed || to == StatusCanceled
	}
	return false
}

// Execution is one attempted run of an action instance triggered by a
// specific event. Created by the trigger in QUEUED; mutated only by the
// worker that claims it, or by an explicit cancellation.
type Execution struct {
	ID               string         `json:"id"`
	ActionInstanceID string         `json:"action_instance_id"`
	ActivationModeID string         `json:"activation_mode_id"`
	AreaID           string         `json:"area_id"`
	// CorrelationID links the triggering event to every side effect it
	// produced.
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        Status         `json:"status"`
	QueuedAt      time.Time      `json:"queued_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}
