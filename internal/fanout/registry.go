package fanout

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roomdoor/fan-out-call/internal/provider"
)

// StrategyInfo describes a registered executor.
type StrategyInfo struct {
	Mode        string `json:"mode"`
	Description string `json:"description"`
}

// describer is implemented by executors that can explain their discipline.
type describer interface {
	Description() string
}

// Registry holds the registered executors keyed by mode.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds e under its mode, replacing any executor with the same mode.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Mode()] = e
}

// Resolve returns the executor registered for mode.
func (r *Registry) Resolve(mode string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return e, nil
}

// List returns the registered strategies sorted by mode.
func (r *Registry) List() []StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]StrategyInfo, 0, len(r.executors))
	for mode, e := range r.executors {
		info := StrategyInfo{Mode: mode}
		if d, ok := e.(describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Mode < infos[j].Mode
	})
	return infos
}

// Close releases executors that hold long-lived resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for mode, e := range r.executors {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", mode, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Config sizes the strategies built by NewStandardRegistry.
type Config struct {
	PerCallTimeout time.Duration
	Parallelism    int
	CorePoolSize   int
	MaxPoolSize    int
	QueueCapacity  int
	KeepAlive      time.Duration
	MaxConcurrency int
}

// NewStandardRegistry registers the four built-in strategies over client.
func NewStandardRegistry(client provider.Client, cfg Config, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewBounded(client, cfg.PerCallTimeout, cfg.Parallelism, logger))
	r.Register(NewWorkerPool(client, cfg.PerCallTimeout, PoolConfig{
		CoreSize:      cfg.CorePoolSize,
		MaxSize:       cfg.MaxPoolSize,
		QueueCapacity: cfg.QueueCapacity,
		KeepAlive:     cfg.KeepAlive,
	}, logger))
	r.Register(NewFlowControlled(client, cfg.PerCallTimeout, cfg.MaxConcurrency, logger))
	r.Register(NewSequential(client, cfg.PerCallTimeout, logger))
	return r
}
