package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/observability"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/stream"
)

// Pool runs N worker goroutines over one consumer group. Shutdown is
// cooperative: cancel the context passed to Run and every loop drains its
// current claim and exits.
type Pool struct {
	size      int
	namePref  string
	block     time.Duration
	log       stream.Log
	store     execution.Store
	instances router.InstanceSource
	executor  ActionExecutor
	tracker   *Tracker
	obs       *observability.Provider
	logger    *slog.Logger
}

// Config sizes and wires a Pool.
type Config struct {
	Size         int
	ConsumerName string
	// BlockTimeout bounds each stream read so the loop observes shutdown.
	BlockTimeout time.Duration
}

// NewPool creates a pool. obs may be nil.
func NewPool(cfg Config, log stream.Log, store execution.Store, instances router.InstanceSource,
	executor ActionExecutor, tracker *Tracker, obs *observability.Provider, logger *slog.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "worker"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:      cfg.Size,
		namePref:  cfg.ConsumerName,
		block:     cfg.BlockTimeout,
		log:       log,
		store:     store,
		instances: instances,
		executor:  executor,
		tracker:   tracker,
		obs:       obs,
		logger:    logger.With("component", "worker"),
	}
}

// Run blocks until ctx is canceled and every worker has exited.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		consumer := fmt.Sprintf("%s-%d", p.namePref, i)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, consumer)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, consumer string) {
	logger := p.logger.With("consumer", consumer)
	p.tracker.workerStarted()
	defer p.tracker.workerStopped()
	if p.obs != nil {
		p.obs.WorkerUp(ctx)
		defer p.obs.WorkerDown(ctx)
	}
	logger.InfoContext(ctx, "worker started")

	for {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "worker stopping")
			return
		}
		entry, err := p.log.Claim(ctx, consumer, p.block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.ErrorContext(ctx, "stream claim failed", "error", err)
			// Back off briefly so a dead backend does not spin the loop.
			select {
			case <-ctx.Done():
			case <-time.After(p.block):
			}
			continue
		}
		if entry == nil {
			continue
		}
		// A single bad execution must never kill the worker.
		p.processEntry(ctx, logger, entry)
	}
}

// processEntry drives one claimed entry to acknowledgement.
func (p *Pool) processEntry(ctx context.Context, logger *slog.Logger, entry *stream.Entry) {
	start := time.Now()
	status := p.executeEntry(ctx, logger, entry)
	if status != "" {
		p.tracker.recordOutcome(status)
		if p.obs != nil {
			p.obs.RecordExecution(ctx, string(status), time.Since(start))
		}
	}
	// Ack strictly after the execution reached a terminal status; a crash
	// before this line causes redelivery, not loss.
	if err := p.log.Ack(ctx, entry.ID); err != nil {
		logger.ErrorContext(ctx, "ack failed", "entry_id", entry.ID, "error", err)
	}
}

// executeEntry returns the terminal status reached, or "" when the entry was
// skipped without touching the execution (already terminal on arrival).
func (p *Pool) executeEntry(ctx context.Context, logger *slog.Logger, entry *stream.Entry) execution.Status {
	logger = logger.With("execution_id", entry.ExecutionID, "entry_id", entry.ID)

	e, err := p.store.Get(ctx, entry.ExecutionID)
	if err != nil {
		logger.ErrorContext(ctx, "claimed entry references unknown execution", "error", err)
		return ""
	}

	// A cancellation that won before dispatch skips the side effect.
	if e.Status == execution.StatusCanceled {
		logger.InfoContext(ctx, "execution canceled before dispatch, skipping")
		return ""
	}
	if e.Status.Terminal() {
		logger.InfoContext(ctx, "execution already terminal, skipping", "status", string(e.Status))
		return ""
	}

	e, ok := p.markRunning(ctx, logger, e)
	if !ok {
		return ""
	}

	inst, err := p.instances.Instance(ctx, e.ActionInstanceID)
	if err != nil {
		return p.finish(ctx, logger, e.ID, execution.StatusFailed,
			fmt.Sprintf("resolve instance: %v", err))
	}

	_, execErr := p.executor.Execute(ctx, inst.DefinitionKey, e.Payload, inst.Params, inst.UserID)
	if execErr != nil {
		return p.finish(ctx, logger, e.ID, execution.StatusFailed, execErr.Error())
	}
	return p.finish(ctx, logger, e.ID, execution.StatusOK, "")
}

// markRunning advances QUEUED→RUNNING, resolving races with cancellation and
// redelivery. A redelivered entry whose execution is already RUNNING belongs
// to a presumed-dead consumer; holding the stream claim is ownership, so the
// worker proceeds.
func (p *Pool) markRunning(ctx context.Context, logger *slog.Logger, e *execution.Execution) (*execution.Execution, bool) {
	if e.Status == execution.StatusRunning {
		return e, true
	}
	updated, err := p.store.Transition(ctx, e.ID, execution.StatusQueued, execution.StatusRunning, "")
	if err == nil {
		return updated, true
	}
	if !errors.Is(err, execution.ErrConflict) {
		logger.ErrorContext(ctx, "start transition failed", "error", err)
		return nil, false
	}

	current, getErr := p.store.Get(ctx, e.ID)
	if getErr != nil {
		logger.ErrorContext(ctx, "re-read after start conflict failed", "error", getErr)
		return nil, false
	}
	if current.Status == execution.StatusRunning {
		return current, true
	}
	logger.InfoContext(ctx, "execution advanced concurrently, skipping", "status", string(current.Status))
	return nil, false
}

func (p *Pool) finish(ctx context.Context, logger *slog.Logger, id string, to execution.Status, errMsg string) execution.Status {
	_, err := p.store.Transition(ctx, id, execution.StatusRunning, to, errMsg)
	if err == nil {
		logger.InfoContext(ctx, "execution finished", "status", string(to))
		return to
	}
	if errors.Is(err, execution.ErrConflict) {
		// A concurrent cancellation beat the terminal transition; the
		// status machine keeps whichever writer won.
		logger.InfoContext(ctx, "terminal transition lost to concurrent writer", "wanted", string(to))
		return execution.StatusCanceled
	}
	logger.ErrorContext(ctx, "terminal transition failed", "wanted", string(to), "error", err)
	return ""
}
