package model

import "time"

// RunStatus is the lifecycle state of a fan-out run.
type RunStatus string

// Run status constants.
const (
	StatusInProgress     RunStatus = "IN_PROGRESS"
	StatusCompleted      RunStatus = "COMPLETED"
	StatusPartialFailure RunStatus = "PARTIAL_FAILURE"
	StatusFailed         RunStatus = "FAILED"
)

// IsTerminal reports whether no further transition can occur from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartialFailure, StatusFailed:
		return true
	default:
		return false
	}
}

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry.
var validTransitions = map[RunStatus]map[RunStatus]bool{
	StatusInProgress: {
		StatusCompleted:      true,
		StatusPartialFailure: true,
		StatusFailed:         true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to RunStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run is one fan-out operation triggered by a single submitted query.
type Run struct {
	ID                     int64      `json:"id"`
	ExternalID             string     `json:"external_id"`
	BorrowerID             string     `json:"borrower_id"`
	Mode                   string     `json:"mode"`
	RequestedProviderCount int        `json:"requested_provider_count"`
	SuccessCount           int        `json:"success_count"`
	FailureCount           int        `json:"failure_count"`
	Status                 RunStatus  `json:"status"`
	FailureReason          string     `json:"failure_reason,omitempty"`
	StartedAt              time.Time  `json:"started_at"`
	FinishedAt             *time.Time `json:"finished_at,omitempty"`
}

// ResultCounts aggregates the persisted call results of a run.
type ResultCounts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Completed returns the number of accounted-for provider calls.
func (c ResultCounts) Completed() int {
	return c.Success + c.Failure
}

// DecideStatus maps result counts to the terminal status of a run that
// finished its fan-out normally.
func DecideStatus(c ResultCounts) RunStatus {
	switch {
	case c.Completed() == 0:
		return StatusFailed
	case c.Failure == 0:
		return StatusCompleted
	case c.Success == 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}
