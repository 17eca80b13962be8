// Package provider talks to the external lenders: it builds the outbound
// payload, performs a single call, and maps the answer (or the failure) into
// a model.CallResult.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// Synthetic values recorded when a call fails before producing an outcome.
const (
	ExceptionCode    = "EXCEPTION"
	ExceptionMessage = "External call failed"
	emptyPayload     = "{}"
)

// Client invokes a single provider. Call returns an error for timeouts,
// transport failures and malformed responses; it never fabricates outcome
// fields for those cases.
type Client interface {
	BuildRequest(q model.LoanQuery) string
	Call(ctx context.Context, p model.ProviderProfile, q model.LoanQuery, payload string) (model.CallOutcome, error)
}

// BuildRequest serializes the borrower fields into the provider payload.
func BuildRequest(q model.LoanQuery) string {
	id, _ := json.Marshal(q.BorrowerID)
	return fmt.Sprintf(`{"customer":{"id":%s},"income":{"annual":%d},"loan":{"requestedAmount":%d}}`,
		id, q.AnnualIncome, q.RequestedAmount)
}

// IsSuccess applies the success criterion to a call outcome.
func IsSuccess(o model.CallOutcome) bool {
	return o.HTTPStatus >= 200 && o.HTTPStatus <= 299 && o.ApprovedLimit != nil
}

// ToResult maps an outcome and its timing into a CallResult.
func ToResult(runID int64, p model.ProviderProfile, payload string, o model.CallOutcome, requestedAt, respondedAt time.Time, latency time.Duration) *model.CallResult {
	success := IsSuccess(o)
	status := o.HTTPStatus

	r := &model.CallResult{
		RunID:           runID,
		ProviderCode:    p.Code,
		Host:            p.Host,
		URL:             p.URL,
		HTTPStatus:      &status,
		Success:         success,
		ResponseCode:    o.ResponseCode,
		ResponseMessage: o.ResponseMessage,
		ApprovedLimit:   o.ApprovedLimit,
		LatencyMs:       latency.Milliseconds(),
		RequestPayload:  payload,
		ResponsePayload: o.ResponsePayload,
		RequestedAt:     requestedAt,
		RespondedAt:     respondedAt,
	}
	if !success {
		detail := o.ResponseMessage
		r.ErrorDetail = &detail
	}
	return r
}

// FailureResult builds the synthetic result recorded when a call raised an
// error or timed out.
func FailureResult(runID int64, p model.ProviderProfile, payload string, callErr error, requestedAt, respondedAt time.Time, latency time.Duration) *model.CallResult {
	detail := callErr.Error()
	return &model.CallResult{
		RunID:           runID,
		ProviderCode:    p.Code,
		Host:            p.Host,
		URL:             p.URL,
		Success:         false,
		ResponseCode:    ExceptionCode,
		ResponseMessage: ExceptionMessage,
		LatencyMs:       latency.Milliseconds(),
		ErrorDetail:     &detail,
		RequestPayload:  payload,
		ResponsePayload: emptyPayload,
		RequestedAt:     requestedAt,
		RespondedAt:     respondedAt,
	}
}
