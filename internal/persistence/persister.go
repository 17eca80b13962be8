// Package persistence stores call results, retrying transient storage
// failures with linear backoff.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/store"
)

// Retry defaults.
const (
	MaxAttempts = 3
	BaseBackoff = 25 * time.Millisecond
)

// ErrRetryExhausted is returned when every attempt failed transiently.
var ErrRetryExhausted = errors.New("persist retries exhausted")

// ResultWriter is the storage operation the Persister retries.
type ResultWriter interface {
	InsertCallResult(ctx context.Context, r *model.CallResult) error
}

// Persister stores call results with retry.
type Persister struct {
	writer      ResultWriter
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
}

// Option configures a Persister.
type Option func(*Persister)

// WithBaseBackoff overrides the backoff unit; attempt n waits n times this.
func WithBaseBackoff(d time.Duration) Option {
	return func(p *Persister) { p.baseBackoff = d }
}

// WithMaxAttempts overrides the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(p *Persister) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// New creates a Persister writing through w.
func New(w ResultWriter, logger *slog.Logger, opts ...Option) *Persister {
	p := &Persister{
		writer:      w,
		logger:      logger,
		maxAttempts: MaxAttempts,
		baseBackoff: BaseBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PersistWithRetry stores r. Transient errors are retried up to the attempt
// limit with a delay of baseBackoff*attempt between attempts; any other
// error is returned immediately. A duplicate-result error means an earlier
// attempt committed, so it counts as stored.
func (p *Persister) PersistWithRetry(ctx context.Context, r *model.CallResult) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.writer.InsertCallResult(ctx, r)
		switch {
		case err == nil:
			persistAttemptsTotal.WithLabelValues(outcomeStored).Inc()
			return nil

		case errors.Is(err, store.ErrDuplicateResult):
			persistAttemptsTotal.WithLabelValues(outcomeDuplicate).Inc()
			p.logger.Warn("call result already stored",
				"run_id", r.RunID,
				"provider_code", r.ProviderCode,
				"attempt", attempt,
			)
			return nil

		case !store.IsTransient(err):
			persistAttemptsTotal.WithLabelValues(outcomeFatal).Inc()
			return fmt.Errorf("persist %s: %w", r.ProviderCode, err)
		}

		persistAttemptsTotal.WithLabelValues(outcomeTransient).Inc()
		lastErr = err
		p.logger.Warn("transient persist failure",
			"run_id", r.RunID,
			"provider_code", r.ProviderCode,
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
			"error", err,
		)

		if attempt == p.maxAttempts {
			break
		}
		if err := wait(ctx, p.baseBackoff*time.Duration(attempt)); err != nil {
			return fmt.Errorf("persist %s: %w", r.ProviderCode, err)
		}
	}

	persistAttemptsTotal.WithLabelValues(outcomeExhausted).Inc()
	p.logger.Error("persist retries exhausted",
		"run_id", r.RunID,
		"provider_code", r.ProviderCode,
		"attempts", p.maxAttempts,
		"error", lastErr,
	)
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, r.ProviderCode, p.maxAttempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
