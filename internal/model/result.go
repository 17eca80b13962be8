package model

import "time"

// ProviderProfile identifies one external provider endpoint.
type ProviderProfile struct {
	Code string `json:"code"`
	Host string `json:"host"`
	URL  string `json:"url"`
}

// CallOutcome is the mapped response of a provider call that returned a
// well-formed answer. It carries no timing or success information.
type CallOutcome struct {
	HTTPStatus      int
	ResponseCode    string
	ResponseMessage string
	ApprovedLimit   *int64
	RequestPayload  string
	ResponsePayload string
}

// CallResult is the recorded outcome of one provider call within a run.
type CallResult struct {
	ID              int64     `json:"id"`
	RunID           int64     `json:"run_id"`
	ProviderCode    string    `json:"provider_code"`
	Host            string    `json:"host"`
	URL             string    `json:"url"`
	HTTPStatus      *int      `json:"http_status"`
	Success         bool      `json:"success"`
	ResponseCode    string    `json:"response_code"`
	ResponseMessage string    `json:"response_message"`
	ApprovedLimit   *int64    `json:"approved_limit"`
	LatencyMs       int64     `json:"latency_ms"`
	ErrorDetail     *string   `json:"error_detail"`
	RequestPayload  string    `json:"request_payload"`
	ResponsePayload string    `json:"response_payload"`
	RequestedAt     time.Time `json:"requested_at"`
	RespondedAt     time.Time `json:"responded_at"`
}

// CallContext is the correlation data attached to a single in-flight
// provider call. It travels with each unit of work so log lines emitted on
// any goroutine carry the same identifiers.
type CallContext struct {
	RunID         int64
	TransactionID string
	BorrowerID    string
	ProviderCode  string
	Mode          string
}

// LogAttrs returns the context as slog key/value pairs.
func (c CallContext) LogAttrs() []any {
	return []any{
		"run_id", c.RunID,
		"transaction_id", c.TransactionID,
		"borrower_id", c.BorrowerID,
		"provider_code", c.ProviderCode,
		"mode", c.Mode,
	}
}
