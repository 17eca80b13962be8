package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/provider"
)

// FlowControlled runs the fan-out as two windowed stages joined by a
// buffered channel: stage one keeps at most maxConcurrency calls in flight
// and stage two runs at most maxConcurrency onResult handlers at once.
type FlowControlled struct {
	step           callStep
	maxConcurrency int
}

var _ Executor = (*FlowControlled)(nil)

// completedCall is the unit passed from the call stage to the result stage.
type completedCall struct {
	cc     model.CallContext
	result *model.CallResult
}

// NewFlowControlled creates a flow-controlled executor. A non-positive
// maxConcurrency is treated as 1.
func NewFlowControlled(client provider.Client, perCallTimeout time.Duration, maxConcurrency int, logger *slog.Logger) *FlowControlled {
	return &FlowControlled{
		step: callStep{
			client:  client,
			timeout: perCallTimeout,
			mode:    ModeFlowControlled,
			logger:  logger,
		},
		maxConcurrency: max(maxConcurrency, 1),
	}
}

func (f *FlowControlled) Mode() string { return ModeFlowControlled }

func (f *FlowControlled) Description() string {
	return "windowed call stage feeding a windowed result stage"
}

func (f *FlowControlled) Execute(parent context.Context, req Request, onResult ResultFunc) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make(chan completedCall, f.maxConcurrency)
	go f.dispatch(ctx, req, results)

	var (
		handlers sync.WaitGroup
		window   = make(chan struct{}, f.maxConcurrency)
		once     sync.Once
		firstErr error
		handled  int
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for c := range results {
		if ctx.Err() != nil {
			continue
		}
		handled++
		window <- struct{}{}
		handlers.Go(func() {
			defer func() { <-window }()
			defer func() {
				if rec := recover(); rec != nil {
					fail(fmt.Errorf("result handler panicked: %v", rec))
				}
			}()
			if err := onResult(ctx, c.result); err != nil {
				f.step.logger.Error("result handler failed", append(c.cc.LogAttrs(), "error", err)...)
				fail(err)
			}
		})
	}

	handlers.Wait()
	if firstErr == nil && handled < len(req.Providers) {
		// Calls were dropped because the caller gave up.
		return parent.Err()
	}
	return firstErr
}

// dispatch is stage one. It closes out once every started call has been
// delivered, or stops starting calls when ctx is cancelled.
func (f *FlowControlled) dispatch(ctx context.Context, req Request, out chan<- completedCall) {
	var calls sync.WaitGroup
	window := make(chan struct{}, f.maxConcurrency)

	defer func() {
		calls.Wait()
		close(out)
	}()

	for _, p := range req.Providers {
		select {
		case window <- struct{}{}:
		case <-ctx.Done():
			return
		}

		cc := req.callContext(p, ModeFlowControlled)
		f.step.logger.Debug("dispatching provider call", cc.LogAttrs()...)
		calls.Go(func() {
			defer func() { <-window }()
			out <- completedCall{cc: cc, result: f.step.run(ctx, cc, req, p)}
		})
	}
}
