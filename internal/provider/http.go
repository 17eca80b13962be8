package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// maxResponseBytes caps how much of a lender response body is read.
const maxResponseBytes = 64 << 10

// ErrMalformedResponse is returned when a lender answers with a body that
// does not follow the loan-limit contract.
var ErrMalformedResponse = errors.New("malformed provider response")

// Compile-time interface satisfaction check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient calls lenders over HTTP. Every provider is reached through the
// same base URL; the provider's virtual host is sent in the Host header.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a lender client. If hc is nil a client with default
// transport settings is used; per-call deadlines come from the ctx.
func NewHTTPClient(baseURL string, hc *http.Client, logger *slog.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// BuildRequest serializes the borrower fields into the provider payload.
func (c *HTTPClient) BuildRequest(q model.LoanQuery) string {
	return BuildRequest(q)
}

// Call posts payload to the provider and maps its answer.
func (c *HTTPClient) Call(ctx context.Context, p model.ProviderProfile, q model.LoanQuery, payload string) (model.CallOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+p.URL, strings.NewReader(payload))
	if err != nil {
		return model.CallOutcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Host = p.Host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("X-Borrower-Id", q.BorrowerID)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.CallOutcome{}, fmt.Errorf("call %s: %w", p.Code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.CallOutcome{}, fmt.Errorf("read %s response: %w", p.Code, err)
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return model.CallOutcome{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Code, err)
	}
	if wr.Status.Code == "" {
		return model.CallOutcome{}, fmt.Errorf("%w: %s: missing status code", ErrMalformedResponse, p.Code)
	}

	outcome := model.CallOutcome{
		HTTPStatus:      resp.StatusCode,
		ResponseCode:    wr.Status.Code,
		ResponseMessage: responseMessage(wr.Status),
		RequestPayload:  payload,
		ResponsePayload: string(body),
	}
	if wr.Data != nil {
		limit := wr.Data.Limit
		outcome.ApprovedLimit = &limit
	}

	c.logger.Debug("provider responded",
		"provider_code", p.Code,
		"http_status", resp.StatusCode,
		"response_code", wr.Status.Code,
	)
	return outcome, nil
}
