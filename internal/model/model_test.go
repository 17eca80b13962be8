package model

import (
	"errors"
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := []struct {
		constant RunStatus
		expected string
		terminal bool
	}{
		{StatusInProgress, "IN_PROGRESS", false},
		{StatusCompleted, "COMPLETED", true},
		{StatusPartialFailure, "PARTIAL_FAILURE", true},
		{StatusFailed, "FAILED", true},
	}
	for _, s := range statuses {
		if string(s.constant) != s.expected {
			t.Errorf("status constant = %q, want %q", s.constant, s.expected)
		}
		if s.constant.IsTerminal() != s.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", s.constant, !s.terminal, s.terminal)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPartialFailure, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusPartialFailure, StatusInProgress, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDecideStatus(t *testing.T) {
	tests := []struct {
		name   string
		counts ResultCounts
		want   RunStatus
	}{
		{"nothing completed", ResultCounts{}, StatusFailed},
		{"all succeeded", ResultCounts{Success: 5}, StatusCompleted},
		{"single success", ResultCounts{Success: 1}, StatusCompleted},
		{"all failed", ResultCounts{Failure: 5}, StatusFailed},
		{"mixed", ResultCounts{Success: 3, Failure: 2}, StatusPartialFailure},
		{"one of each", ResultCounts{Success: 1, Failure: 1}, StatusPartialFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecideStatus(tt.counts); got != tt.want {
				t.Errorf("DecideStatus(%+v) = %s, want %s", tt.counts, got, tt.want)
			}
		})
	}
}

func TestLoanQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   LoanQuery
		wantErr bool
	}{
		{"valid", LoanQuery{BorrowerID: "B-1", AnnualIncome: 50_000_000, RequestedAmount: 10_000_000}, false},
		{"missing borrower", LoanQuery{AnnualIncome: 1, RequestedAmount: 1}, true},
		{"blank borrower", LoanQuery{BorrowerID: "  ", AnnualIncome: 1, RequestedAmount: 1}, true},
		{"zero income", LoanQuery{BorrowerID: "B-1", RequestedAmount: 1}, true},
		{"negative amount", LoanQuery{BorrowerID: "B-1", AnnualIncome: 1, RequestedAmount: -5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("Validate() = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestNewResultView(t *testing.T) {
	status := 200
	limit := int64(1000)
	r := &CallResult{
		ProviderCode:    "LENDER-01",
		Host:            "api.lender-01.mock.finance.local",
		URL:             "/v2/loan-limit/check/01",
		HTTPStatus:      &status,
		Success:         true,
		ResponseCode:    "S000",
		ResponseMessage: "Approved",
		ApprovedLimit:   &limit,
		LatencyMs:       42,
	}

	v := NewResultView(r)
	if v.ProviderCode != r.ProviderCode || v.URL != r.URL || !v.Success {
		t.Errorf("NewResultView() = %+v, fields not copied", v)
	}
	if v.HTTPStatus == nil || *v.HTTPStatus != 200 {
		t.Errorf("HTTPStatus = %v, want 200", v.HTTPStatus)
	}
	if v.ApprovedLimit == nil || *v.ApprovedLimit != 1000 {
		t.Errorf("ApprovedLimit = %v, want 1000", v.ApprovedLimit)
	}
}
