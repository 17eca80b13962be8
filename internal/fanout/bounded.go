package fanout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roomdoor/fan-out-call/internal/provider"
)

// Bounded starts one goroutine per provider and limits the calls in flight
// with a weighted semaphore. Results are handed to onResult in completion
// order.
type Bounded struct {
	step        callStep
	parallelism int
}

var _ Executor = (*Bounded)(nil)

// NewBounded creates a bounded-parallelism executor. A non-positive
// parallelism is treated as 1.
func NewBounded(client provider.Client, perCallTimeout time.Duration, parallelism int, logger *slog.Logger) *Bounded {
	return &Bounded{
		step: callStep{
			client:  client,
			timeout: perCallTimeout,
			mode:    ModeBounded,
			logger:  logger,
		},
		parallelism: max(parallelism, 1),
	}
}

func (b *Bounded) Mode() string { return ModeBounded }

func (b *Bounded) Description() string {
	return "one task per provider, semaphore-bounded calls in flight"
}

func (b *Bounded) Execute(ctx context.Context, req Request, onResult ResultFunc) error {
	sem := semaphore.NewWeighted(int64(b.parallelism))
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range req.Providers {
		cc := req.callContext(p, ModeBounded)
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			r := b.step.run(gctx, cc, req, p)
			sem.Release(1)
			return onResult(gctx, r)
		})
	}
	return g.Wait()
}
