package model

import "time"

// RunSnapshot is the externally visible, point-in-time view of a run.
type RunSnapshot struct {
	TransactionNo          int64        `json:"transactionNo"`
	TransactionID          string       `json:"transactionId"`
	Status                 RunStatus    `json:"status"`
	Mode                   string       `json:"mode"`
	RequestedProviderCount int          `json:"requestedProviderCount"`
	SuccessCount           int          `json:"successCount"`
	FailureCount           int          `json:"failureCount"`
	CompletedCount         int          `json:"completedCount"`
	ElapsedMs              int64        `json:"elapsedMs"`
	CompletedWithinSLA     bool         `json:"completedWithinSla"`
	StartedAt              time.Time    `json:"startedAt"`
	FinishedAt             *time.Time   `json:"finishedAt"`
	FailureReason          string       `json:"failureReason,omitempty"`
	Results                []ResultView `json:"results"`
}

// ResultView is the per-provider entry of a RunSnapshot.
type ResultView struct {
	ProviderCode    string  `json:"providerCode"`
	Host            string  `json:"host"`
	URL             string  `json:"url"`
	Success         bool    `json:"success"`
	HTTPStatus      *int    `json:"httpStatus"`
	ResponseCode    string  `json:"responseCode"`
	ResponseMessage string  `json:"responseMessage"`
	ApprovedLimit   *int64  `json:"approvedLimit"`
	LatencyMs       int64   `json:"latencyMs"`
	ErrorDetail     *string `json:"errorDetail"`
}

// NewResultView projects a stored CallResult onto its external shape.
func NewResultView(r *CallResult) ResultView {
	return ResultView{
		ProviderCode:    r.ProviderCode,
		Host:            r.Host,
		URL:             r.URL,
		Success:         r.Success,
		HTTPStatus:      r.HTTPStatus,
		ResponseCode:    r.ResponseCode,
		ResponseMessage: r.ResponseMessage,
		ApprovedLimit:   r.ApprovedLimit,
		LatencyMs:       r.LatencyMs,
		ErrorDetail:     r.ErrorDetail,
	}
}
