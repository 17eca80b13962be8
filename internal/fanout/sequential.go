package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roomdoor/fan-out-call/internal/provider"
)

// Sequential calls providers one at a time in catalog order on a dedicated
// goroutine. The next call starts only after the previous result was handled.
type Sequential struct {
	step callStep
}

var _ Executor = (*Sequential)(nil)

// NewSequential creates a sequential executor.
func NewSequential(client provider.Client, perCallTimeout time.Duration, logger *slog.Logger) *Sequential {
	return &Sequential{
		step: callStep{
			client:  client,
			timeout: perCallTimeout,
			mode:    ModeSequential,
			logger:  logger,
		},
	}
}

func (s *Sequential) Mode() string { return ModeSequential }

func (s *Sequential) Description() string {
	return "one call at a time in catalog order"
}

func (s *Sequential) Execute(ctx context.Context, req Request, onResult ResultFunc) error {
	errc := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errc <- fmt.Errorf("result handler panicked: %v", rec)
			}
		}()

		for _, p := range req.Providers {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}
			cc := req.callContext(p, ModeSequential)
			r := s.step.run(ctx, cc, req, p)
			if err := onResult(ctx, r); err != nil {
				s.step.logger.Error("result handler failed", append(cc.LogAttrs(), "error", err)...)
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	return <-errc
}
