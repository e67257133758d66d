// Package trigger creates executions for matched instances and hands them to
// the durable stream.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/stream"
)

// ErrNoActivationMode reports that the instance carries no enabled activation
// mode of the requested type. This is a caller bug: routing already filtered
// on the webhook mode, so hitting it means the instance changed underneath
// us. Logged and skipped, never fatal to a batch.
var ErrNoActivationMode = errors.New("no enabled activation mode of requested type")

// Trigger persists executions and publishes their stream entries.
type Trigger struct {
	store  execution.Store
	log    stream.Log
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a Trigger.
func New(store execution.Store, log stream.Log, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		store:  store,
		log:    log,
		logger: logger.With("component", "trigger"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Fire creates exactly one QUEUED execution for the instance and appends its
// stream entry. On persistence failure nothing is enqueued and no partial
// state remains; on publish failure the execution is failed in place so it
// cannot sit QUEUED forever without a stream entry.
func (t *Trigger) Fire(ctx context.Context, inst *router.ActionInstance, modeType router.ModeType, payload map[string]any) (*execution.Execution, error) {
	mode, ok := inst.Mode(modeType)
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", inst.ID, ErrNoActivationMode)
	}

	e := &execution.Execution{
		ID:               t.newID(),
		ActionInstanceID: inst.ID,
		ActivationModeID: mode.ID,
		AreaID:           inst.AreaID,
		CorrelationID:    t.newID(),
		Payload:          payload,
		Status:           execution.StatusQueued,
		QueuedAt:         t.now().UTC(),
	}

	if err := t.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("persist execution for instance %s: %w", inst.ID, err)
	}

	entry := &stream.Entry{
		ExecutionID:      e.ID,
		ActionInstanceID: inst.ID,
		AreaID:           inst.AreaID,
		Payload:          payload,
		EnqueuedAt:       e.QueuedAt,
	}
	if err := t.log.Publish(ctx, entry); err != nil {
		t.logger.ErrorContext(ctx, "stream publish failed, failing execution",
			"execution_id", e.ID, "instance_id", inst.ID, "error", err)
		if _, terr := t.store.Transition(ctx, e.ID, execution.StatusQueued, execution.StatusFailed,
			fmt.Sprintf("enqueue failed: %v", err)); terr != nil {
			t.logger.ErrorContext(ctx, "could not fail unpublished execution",
				"execution_id", e.ID, "error", terr)
		}
		return nil, fmt.Errorf("enqueue execution %s: %w", e.ID, err)
	}

	t.logger.InfoContext(ctx, "execution queued",
		"execution_id", e.ID,
		"instance_id", inst.ID,
		"correlation_id", e.CorrelationID,
		"mode", string(modeType))
	return e, nil
}
