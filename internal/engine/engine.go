package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roomdoor/fan-out-call/internal/catalog"
	"github.com/roomdoor/fan-out-call/internal/fanout"
	"github.com/roomdoor/fan-out-call/internal/lifecycle"
	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/persistence"
	"github.com/roomdoor/fan-out-call/internal/store"
)

// notifyTimeout bounds a single Notifier.RunFinalized call.
const notifyTimeout = 5 * time.Second

// Finalize is retried while the store reports a transient failure.
const (
	finalizeAttempts = 3
	finalizeBackoff  = 50 * time.Millisecond
)

// Notifier is told about every run that reached a terminal status.
type Notifier interface {
	RunFinalized(ctx context.Context, snap *model.RunSnapshot) error
}

// Orchestrator accepts queries and runs each fan-out on a detached goroutine.
type Orchestrator struct {
	lifecycle *lifecycle.Manager
	registry  *fanout.Registry
	catalog   *catalog.Catalog
	persister *persistence.Persister
	notifier  Notifier
	broker    *RunEventBroker
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the notifier called after each run is finalized.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(lc *lifecycle.Manager, reg *fanout.Registry, cat *catalog.Catalog, p *persistence.Persister, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lifecycle: lc,
		registry:  reg,
		catalog:   cat,
		persister: p,
		broker:    NewRunEventBroker(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Broker returns the run event broker for progress subscriptions.
func (o *Orchestrator) Broker() *RunEventBroker {
	return o.broker
}

// Submit validates q, creates an in-progress run for mode and starts the
// fan-out in the background. Invalid queries and unknown modes fail before
// any run is stored. The returned snapshot is the run as created.
func (o *Orchestrator) Submit(ctx context.Context, q model.LoanQuery, mode string) (*model.RunSnapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	exec, err := o.registry.Resolve(mode)
	if err != nil {
		return nil, err
	}

	providers := o.catalog.All()
	run, err := o.lifecycle.CreateRun(ctx, q, exec.Mode(), len(providers))
	if err != nil {
		return nil, err
	}

	req := fanout.Request{
		RunID:      run.ID,
		ExternalID: run.ExternalID,
		Providers:  providers,
		Query:      q,
	}
	o.wg.Go(func() {
		o.run(context.Background(), run, exec, req)
	})

	return o.lifecycle.InitialSnapshot(run), nil
}

// Wait blocks until all in-flight runs complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run drives one run to its terminal status. It never reports back to the
// submitter.
func (o *Orchestrator) run(ctx context.Context, run *model.Run, exec fanout.Executor, req fanout.Request) {
	defer o.broker.Close(run.ID)
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("run task panicked",
				"run_id", run.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			o.fail(ctx, run, fmt.Sprintf("panic: %v", rec))
		}
	}()

	if execErr := o.execute(ctx, exec, req); execErr != nil {
		o.fail(ctx, run, execErr.Error())
		return
	}

	finished, err := o.finalize(ctx, run)
	if errors.Is(err, store.ErrInvalidTransition) {
		o.logger.Warn("run already finished", "run_id", run.ID, "transaction_id", run.ExternalID)
		return
	}
	if err != nil {
		// A run left IN_PROGRESS is never picked up again.
		o.logger.Error("failed to finalize run", "run_id", run.ID, "transaction_id", run.ExternalID, "error", err)
		o.fail(ctx, run, "finalize: "+err.Error())
		return
	}

	o.announce(ctx, finished)
}

func (o *Orchestrator) finalize(ctx context.Context, run *model.Run) (*model.Run, error) {
	backoff := finalizeBackoff
	for attempt := 1; ; attempt++ {
		finished, err := o.lifecycle.Finalize(ctx, run.ID)
		if err == nil || !store.IsTransient(err) || attempt == finalizeAttempts {
			return finished, err
		}
		o.logger.Warn("finalize run failed, retrying",
			"run_id", run.ID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, err
		}
		backoff *= 2
	}
}

// execute runs the executor with a result handler that persists and then
// publishes each result. A panic anywhere in the executor becomes an error.
func (o *Orchestrator) execute(ctx context.Context, exec fanout.Executor, req fanout.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("executor panicked",
				"run_id", req.RunID,
				"mode", exec.Mode(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return exec.Execute(ctx, req, func(ctx context.Context, r *model.CallResult) error {
		if err := o.persister.PersistWithRetry(ctx, r); err != nil {
			return err
		}
		view := model.NewResultView(r)
		o.broker.Publish(req.RunID, RunEvent{Type: EventResult, Result: &view})
		return nil
	})
}

// fail marks run FAILED and announces it. A run that was already finalized is
// left alone.
func (o *Orchestrator) fail(ctx context.Context, run *model.Run, reason string) {
	finished, err := o.lifecycle.MarkFailed(ctx, run.ID, reason)
	if err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			o.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
		}
		return
	}
	o.announce(ctx, finished)
}

func (o *Orchestrator) announce(ctx context.Context, finished *model.Run) {
	snap, err := o.lifecycle.Snapshot(ctx, finished)
	if err != nil {
		o.logger.Error("failed to build final snapshot", "run_id", finished.ID, "error", err)
		return
	}
	o.broker.Publish(finished.ID, RunEvent{Type: EventFinalized, Snapshot: snap})

	if o.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := o.notifier.RunFinalized(nctx, snap); err != nil {
		o.logger.Error("run finalized notification failed",
			"run_id", finished.ID,
			"transaction_id", finished.ExternalID,
			"error", err,
		)
	}
}
