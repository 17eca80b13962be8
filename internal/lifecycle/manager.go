// Package lifecycle owns the run record: creation, the single transition to
// a terminal status, and the point-in-time snapshots served to pollers.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/store"
)

// Manager creates, finalizes and reports on runs.
type Manager struct {
	store              store.Store
	logger             *slog.Logger
	requiredCompletion time.Duration
	now                func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for timestamps and elapsed time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lifecycle manager. A run counts as completed within
// SLA when it finished no later than requiredCompletion after it started.
func NewManager(s store.Store, requiredCompletion time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:              s,
		logger:             logger,
		requiredCompletion: requiredCompletion,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRun stores a new in-progress run for q.
func (m *Manager) CreateRun(ctx context.Context, q model.LoanQuery, mode string, requestedCount int) (*model.Run, error) {
	run := &model.Run{
		ExternalID:             model.NewID(),
		BorrowerID:             q.BorrowerID,
		Mode:                   mode,
		RequestedProviderCount: requestedCount,
		Status:                 model.StatusInProgress,
		StartedAt:              m.now().UTC(),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	m.logger.Info("run created",
		"run_id", run.ID,
		"transaction_id", run.ExternalID,
		"borrower_id", run.BorrowerID,
		"mode", mode,
		"requested_provider_count", requestedCount,
	)
	return run, nil
}

// Finalize computes the terminal status of a run from its stored results
// and persists it.
func (m *Manager) Finalize(ctx context.Context, runID int64) (*model.Run, error) {
	return m.finish(ctx, runID, "", model.DecideStatus)
}

// MarkFailed forces a run to FAILED, recording reason. Counts still reflect
// the results stored so far.
func (m *Manager) MarkFailed(ctx context.Context, runID int64, reason string) (*model.Run, error) {
	return m.finish(ctx, runID, reason, func(model.ResultCounts) model.RunStatus {
		return model.StatusFailed
	})
}

func (m *Manager) finish(ctx context.Context, runID int64, reason string, decide func(model.ResultCounts) model.RunStatus) (*model.Run, error) {
	counts, err := m.store.CountCallResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("count results for run %d: %w", runID, err)
	}

	status := decide(counts)
	err = m.store.FinishRun(ctx, store.RunFinish{
		RunID:         runID,
		Status:        status,
		Counts:        counts,
		FailureReason: reason,
		FinishedAt:    m.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("finish run %d: %w", runID, err)
	}

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reload run %d: %w", runID, err)
	}

	elapsed := run.FinishedAt.Sub(run.StartedAt)
	runsFinalizedTotal.WithLabelValues(string(status)).Inc()
	runElapsedSeconds.Observe(elapsed.Seconds())

	attrs := []any{
		"run_id", run.ID,
		"transaction_id", run.ExternalID,
		"status", status,
		"success_count", counts.Success,
		"failure_count", counts.Failure,
		"requested_provider_count", run.RequestedProviderCount,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if reason != "" {
		m.logger.Error("run marked failed", append(attrs, "reason", reason)...)
	} else {
		m.logger.Info("run finalized", attrs...)
	}
	if counts.Completed() > run.RequestedProviderCount {
		m.logger.Error("run has more results than providers", attrs...)
	}
	return run, nil
}

// InitialSnapshot returns the view of a run taken right after creation.
func (m *Manager) InitialSnapshot(run *model.Run) *model.RunSnapshot {
	return &model.RunSnapshot{
		TransactionNo:          run.ID,
		TransactionID:          run.ExternalID,
		Status:                 run.Status,
		Mode:                   run.Mode,
		RequestedProviderCount: run.RequestedProviderCount,
		StartedAt:              run.StartedAt,
		Results:                []model.ResultView{},
	}
}

// Snapshot assembles the current view of run from the results stored at
// the time of the call.
func (m *Manager) Snapshot(ctx context.Context, run *model.Run) (*model.RunSnapshot, error) {
	results, err := m.store.ListCallResults(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list results for run %d: %w", run.ID, err)
	}

	snap := m.InitialSnapshot(run)
	snap.FinishedAt = run.FinishedAt
	snap.FailureReason = run.FailureReason
	snap.Results = make([]model.ResultView, 0, len(results))

	var counts model.ResultCounts
	for _, r := range results {
		if r.Success {
			counts.Success++
		} else {
			counts.Failure++
		}
		snap.Results = append(snap.Results, model.NewResultView(r))
	}
	if run.Status.IsTerminal() {
		counts = model.ResultCounts{Success: run.SuccessCount, Failure: run.FailureCount}
	}
	snap.SuccessCount = counts.Success
	snap.FailureCount = counts.Failure
	snap.CompletedCount = counts.Completed()

	end := m.now()
	if run.FinishedAt != nil {
		end = *run.FinishedAt
	}
	snap.ElapsedMs = max(end.Sub(run.StartedAt).Milliseconds(), 0)
	snap.CompletedWithinSLA = run.FinishedAt != nil && snap.ElapsedMs <= m.requiredCompletion.Milliseconds()

	return snap, nil
}

// LookupByTransactionID returns the snapshot of the run with the given
// external id, or an error wrapping store.ErrNotFound.
func (m *Manager) LookupByTransactionID(ctx context.Context, transactionID string) (*model.RunSnapshot, error) {
	run, err := m.store.GetRunByExternalID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot(ctx, run)
}

// LookupByTransactionNo returns the snapshot of the run with the given
// numeric id, or an error wrapping store.ErrNotFound.
func (m *Manager) LookupByTransactionNo(ctx context.Context, transactionNo int64) (*model.RunSnapshot, error) {
	run, err := m.store.GetRun(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	return m.Snapshot(ctx, run)
}
