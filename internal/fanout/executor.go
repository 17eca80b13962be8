// Package fanout dispatches one loan-limit query to every provider of a run
// under a strategy-specific concurrency discipline. Every strategy shares the
// same per-call step, so a timed-out, failed or panicking provider call is
// always recorded as a synthetic failure result instead of aborting the run.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/provider"
)

// Strategy mode keys.
const (
	ModeBounded        = "bounded"
	ModeWorkerPool     = "worker-pool"
	ModeFlowControlled = "flow-controlled"
	ModeSequential     = "sequential"
)

// ErrUnknownMode is returned when no executor is registered for a mode.
var ErrUnknownMode = errors.New("unknown fan-out mode")

// Request is one fan-out: a query sent to every provider of a run.
type Request struct {
	RunID      int64
	ExternalID string
	Providers  []model.ProviderProfile
	Query      model.LoanQuery
}

// ResultFunc receives each completed call result. A non-nil error abandons
// the run and is returned from Execute.
type ResultFunc func(ctx context.Context, r *model.CallResult) error

// Executor runs a fan-out. Execute invokes onResult exactly once per
// provider and returns only when every provider has been accounted for or an
// onResult error abandoned the run. Provider failures never surface as an
// error from Execute.
type Executor interface {
	Mode() string
	Execute(ctx context.Context, req Request, onResult ResultFunc) error
}

// callStep is the per-call step shared by all strategies.
type callStep struct {
	client  provider.Client
	timeout time.Duration
	mode    string
	logger  *slog.Logger
}

func (req Request) callContext(p model.ProviderProfile, mode string) model.CallContext {
	return model.CallContext{
		RunID:         req.RunID,
		TransactionID: req.ExternalID,
		BorrowerID:    req.Query.BorrowerID,
		ProviderCode:  p.Code,
		Mode:          mode,
	}
}

// run performs a single provider call under the per-call timeout and maps
// the outcome, error or panic into a CallResult. It never returns nil.
func (s *callStep) run(ctx context.Context, cc model.CallContext, req Request, p model.ProviderProfile) (result *model.CallResult) {
	var payload string
	requestedAt := time.Now().UTC()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("provider call panicked: %v", rec)
			result = provider.FailureResult(req.RunID, p, payload, err, requestedAt, time.Now().UTC(), time.Since(start))
			s.record(cc, result, err)
		}
	}()

	payload = s.client.BuildRequest(req.Query)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := s.call(callCtx, p, req.Query, payload)

	latency := time.Since(start)
	respondedAt := time.Now().UTC()

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("call timed out after %s: %w", s.timeout, err)
		}
		result = provider.FailureResult(req.RunID, p, payload, err, requestedAt, respondedAt, latency)
		s.record(cc, result, err)
		return result
	}

	result = provider.ToResult(req.RunID, p, payload, outcome, requestedAt, respondedAt, latency)
	s.record(cc, result, nil)
	return result
}

func (s *callStep) call(ctx context.Context, p model.ProviderProfile, q model.LoanQuery, payload string) (model.CallOutcome, error) {
	inFlight := providerCallsInFlight.WithLabelValues(s.mode)
	inFlight.Inc()
	defer inFlight.Dec()
	return s.client.Call(ctx, p, q, payload)
}

func (s *callStep) record(cc model.CallContext, r *model.CallResult, err error) {
	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeException
	case !r.Success:
		outcome = outcomeRejected
	}
	providerCallsTotal.WithLabelValues(s.mode, outcome).Inc()
	providerCallDuration.WithLabelValues(s.mode).Observe(float64(r.LatencyMs) / 1000)

	attrs := append(cc.LogAttrs(), "latency_ms", r.LatencyMs, "response_code", r.ResponseCode)
	if err != nil {
		s.logger.Warn("provider call failed", append(attrs, "error", err)...)
		return
	}
	s.logger.Debug("provider call completed", append(attrs, "success", r.Success)...)
}
