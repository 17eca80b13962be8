package store

import (
	"context"
	"errors"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
)

var (
	// ErrNotFound is returned when a run is not found.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidTransition is returned when a run status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransient marks storage failures that may succeed when retried
	// (lock contention, serialization failures, dropped connections).
	ErrTransient = errors.New("transient storage error")

	// ErrDuplicateResult is returned when a call result for the same run and
	// provider has already been stored.
	ErrDuplicateResult = errors.New("call result already stored")
)

// RunFinish carries the terminal state written once when a run ends.
type RunFinish struct {
	RunID         int64
	Status        model.RunStatus
	Counts        model.ResultCounts
	FailureReason string
	FinishedAt    time.Time
}

// RunStats holds aggregate statistics across all runs.
type RunStats struct {
	Total                int            `json:"total"`
	CountByStatus        map[string]int `json:"count_by_status"`
	CountByMode          map[string]int `json:"count_by_mode"`
	AvgElapsedMS         float64        `json:"avg_elapsed_ms"`
	ProviderCalls        int            `json:"provider_calls"`
	ProviderSuccessRatio float64        `json:"provider_success_ratio"`
}

// Store defines the persistence operations for runs and their call results.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	GetRunByExternalID(ctx context.Context, externalID string) (*model.Run, error)
	FinishRun(ctx context.Context, f RunFinish) error
	InsertCallResult(ctx context.Context, r *model.CallResult) error
	CountCallResults(ctx context.Context, runID int64) (model.ResultCounts, error)
	ListCallResults(ctx context.Context, runID int64) ([]*model.CallResult, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
