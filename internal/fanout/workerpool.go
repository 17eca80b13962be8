package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roomdoor/fan-out-call/internal/provider"
)

// ErrPoolClosed is returned when a task is submitted to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool defaults.
const (
	DefaultCorePoolSize  = 50
	DefaultMaxPoolSize   = 64
	DefaultQueueCapacity = 100
	DefaultKeepAlive     = 60 * time.Second
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.CoreSize <= 0 {
		c.CoreSize = DefaultCorePoolSize
	}
	if c.MaxSize < c.CoreSize {
		c.MaxSize = max(c.CoreSize, DefaultMaxPoolSize)
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

// pool is a long-lived executor with core workers that never idle out,
// extra workers up to MaxSize that exit after KeepAlive without work, and a
// bounded task queue.
//
// Admission order: start a core worker, else enqueue, else start an extra
// worker, else block until the queue has room.
type pool struct {
	cfg   PoolConfig
	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	workers int
	closed  bool

	sendMu sync.RWMutex
}

func newPool(cfg PoolConfig) *pool {
	cfg = cfg.withDefaults()
	return &pool{
		cfg:   cfg,
		queue: make(chan func(), cfg.QueueCapacity),
		done:  make(chan struct{}),
	}
}

// submit admits task, blocking while the pool is saturated.
func (p *pool) submit(ctx context.Context, task func()) error {
	ok, err := p.trySubmit(task)
	if err != nil || ok {
		return err
	}
	_, err = p.enqueue(ctx, task, true)
	return err
}

// trySubmit admits task without blocking. It reports false when the pool is
// saturated.
func (p *pool) trySubmit(task func()) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, ErrPoolClosed
	}
	if p.workers < p.cfg.CoreSize {
		p.startWorkerLocked(task, true)
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	if ok, err := p.enqueue(context.Background(), task, false); err != nil || ok {
		return ok, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrPoolClosed
	}
	if p.workers < p.cfg.MaxSize {
		p.startWorkerLocked(task, false)
		return true, nil
	}
	return false, nil
}

// enqueue puts task on the queue. Senders hold sendMu for reading so that
// close can wait them out before its final drain; nothing is queued after it.
func (p *pool) enqueue(ctx context.Context, task func(), block bool) (bool, error) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false, ErrPoolClosed
	}

	if !block {
		select {
		case p.queue <- task:
			return true, nil
		default:
			return false, nil
		}
	}

	select {
	case p.queue <- task:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-p.done:
		return false, ErrPoolClosed
	}
}

func (p *pool) startWorkerLocked(first func(), core bool) {
	p.workers++
	poolWorkers.Inc()
	p.wg.Go(func() {
		p.work(first, core)
	})
}

func (p *pool) work(first func(), core bool) {
	if first != nil {
		first()
	}

	var idle *time.Timer
	if !core {
		idle = time.NewTimer(p.cfg.KeepAlive)
		defer idle.Stop()
	}

	for {
		var expired <-chan time.Time
		if idle != nil {
			idle.Reset(p.cfg.KeepAlive)
			expired = idle.C
		}

		select {
		case task := <-p.queue:
			task()
		case <-expired:
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			poolWorkers.Dec()
			return
		case <-p.done:
			p.drain()
			poolWorkers.Dec()
			return
		}
	}
}

func (p *pool) drain() {
	for {
		select {
		case task := <-p.queue:
			task()
		default:
			return
		}
	}
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// close stops admission and waits for the workers to finish queued tasks.
// Tasks that reached the queue after the workers exited run on the caller.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	// Wait out senders that saw the pool open.
	p.sendMu.Lock()
	p.sendMu.Unlock()

	p.wg.Wait()
	p.drain()
}

// WorkerPool runs every call, and the onResult for it, as tasks on a
// long-lived pool shared by all runs.
type WorkerPool struct {
	step callStep
	pool *pool
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool creates a worker-pool executor. Zero fields of cfg take the
// pool defaults.
func NewWorkerPool(client provider.Client, perCallTimeout time.Duration, cfg PoolConfig, logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		step: callStep{
			client:  client,
			timeout: perCallTimeout,
			mode:    ModeWorkerPool,
			logger:  logger,
		},
		pool: newPool(cfg),
	}
}

func (w *WorkerPool) Mode() string { return ModeWorkerPool }

func (w *WorkerPool) Description() string {
	return "long-lived pool with core and max workers and a bounded queue"
}

// Execute submits one task per provider. Each task calls the provider and
// then submits a follow-up task that runs onResult; when the pool is
// saturated the follow-up runs on the calling worker instead of waiting for
// a slot that only the waiting workers could free.
func (w *WorkerPool) Execute(ctx context.Context, req Request, onResult ResultFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	futures := make([]chan struct{}, 0, len(req.Providers))
	var submitErr error

	for _, p := range req.Providers {
		cc := req.callContext(p, ModeWorkerPool)
		done := make(chan struct{})

		task := func() {
			if runCtx.Err() != nil {
				close(done)
				return
			}
			r := w.step.run(runCtx, cc, req, p)

			handle := func() {
				defer close(done)
				defer func() {
					if rec := recover(); rec != nil {
						fail(fmt.Errorf("result handler panicked: %v", rec))
					}
				}()
				if err := onResult(runCtx, r); err != nil {
					w.step.logger.Error("result handler failed", append(cc.LogAttrs(), "error", err)...)
					fail(err)
				}
			}
			if ok, _ := w.pool.trySubmit(handle); !ok {
				handle()
			}
		}

		if err := w.pool.submit(runCtx, task); err != nil {
			submitErr = fmt.Errorf("submit %s: %w", p.Code, err)
			break
		}
		futures = append(futures, done)
	}

	for _, done := range futures {
		<-done
	}

	if firstErr != nil {
		return firstErr
	}
	return submitErr
}

// Close stops the pool after queued tasks have run.
func (w *WorkerPool) Close() error {
	w.pool.close()
	return nil
}
