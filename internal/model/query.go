package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned when a submitted loan-limit query fails validation.
var ErrInvalidQuery = errors.New("invalid loan limit query")

// LoanQuery is the borrower input fanned out to every provider.
type LoanQuery struct {
	BorrowerID      string `json:"borrowerId"`
	AnnualIncome    int64  `json:"annualIncome"`
	RequestedAmount int64  `json:"requestedAmount"`
}

// Validate checks the query fields and returns an error wrapping
// ErrInvalidQuery that names the first offending field.
func (q LoanQuery) Validate() error {
	if strings.TrimSpace(q.BorrowerID) == "" {
		return fmt.Errorf("%w: borrowerId is required", ErrInvalidQuery)
	}
	if q.AnnualIncome <= 0 {
		return fmt.Errorf("%w: annualIncome must be positive", ErrInvalidQuery)
	}
	if q.RequestedAmount <= 0 {
		return fmt.Errorf("%w: requestedAmount must be positive", ErrInvalidQuery)
	}
	return nil
}
