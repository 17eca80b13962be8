package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// SimulatorConfig controls the behavior of the mock lender.
type SimulatorConfig struct {
	ProviderCount      int
	MinLatency         time.Duration
	MaxLatency         time.Duration
	SlowCount          int
	SlowMinLatency     time.Duration
	SlowMaxLatency     time.Duration
	SuccessRatePercent int
}

// DefaultSimulatorConfig returns the mock lender defaults.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		ProviderCount:      50,
		MinLatency:         50 * time.Millisecond,
		MaxLatency:         300 * time.Millisecond,
		SlowCount:          0,
		SlowMinLatency:     3 * time.Second,
		SlowMaxLatency:     6 * time.Second,
		SuccessRatePercent: 90,
	}
}

// Simulator is an http.Handler that answers the loan-limit contract for every
// lender in the catalog with randomized latency and success.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger
	router chi.Router

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithRand sets the random source. Tests pass a seeded source.
func WithRand(r *rand.Rand) SimulatorOption {
	return func(s *Simulator) { s.rng = r }
}

// NewSimulator creates a mock lender handler.
func NewSimulator(cfg SimulatorConfig, logger *slog.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/{version}/loan-limit/check/{number}", s.handleCheck)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Simulator) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResponseBytes)).Decode(&req); err != nil {
		writeLenderResponse(w, http.StatusBadRequest, wireResponse{
			Status: wireStatus{Code: codeBadRequest, Message: "Invalid request"},
		})
		return
	}

	number := lenderNumber(r.Host, chi.URLParam(r, "number"))
	latency, success := s.draw(number)

	if err := sleepCtx(r.Context(), latency); err != nil {
		return // caller gave up
	}

	if !success {
		writeLenderResponse(w, http.StatusServiceUnavailable, wireResponse{
			Status: wireStatus{Code: codeUnavailable, Message: "Provider timeout"},
		})
		return
	}

	limit := min(req.Loan.RequestedAmount, int64(math.Round(float64(req.Income.Annual)*1.1)))
	writeLenderResponse(w, http.StatusOK, wireResponse{
		Status: wireStatus{Code: codeApproved, Message: "SUCCESS"},
		Data:   &wireData{Limit: limit},
	})

	s.logger.Debug("simulated lender call",
		"lender_number", number,
		"latency_ms", latency.Milliseconds(),
	)
}

// draw picks the latency and outcome for one call.
func (s *Simulator) draw(number int) (time.Duration, bool) {
	lo, hi := s.cfg.MinLatency, s.cfg.MaxLatency
	if s.isSlow(number) {
		lo, hi = s.cfg.SlowMinLatency, s.cfg.SlowMaxLatency
	}
	lo, hi = min(lo, hi), max(lo, hi)

	s.mu.Lock()
	defer s.mu.Unlock()

	latency := lo
	if span := hi - lo; span > 0 {
		latency += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	success := s.rng.IntN(100)+1 <= s.cfg.SuccessRatePercent
	return latency, success
}

// isSlow reports whether lender number falls in the slow tail of the catalog.
func (s *Simulator) isSlow(number int) bool {
	slowCount := min(max(s.cfg.SlowCount, 0), s.cfg.ProviderCount)
	if slowCount == 0 || number <= 0 {
		return false
	}
	return number >= s.cfg.ProviderCount-slowCount+1
}

// lenderNumber extracts the lender number from a virtual host such as
// "api.lender-07.mock.finance.local", falling back to the path segment.
func lenderNumber(host, pathNumber string) int {
	if rest, ok := strings.CutPrefix(host, "api.lender-"); ok {
		if digits, _, found := strings.Cut(rest, "."); found {
			if n, err := strconv.Atoi(digits); err == nil {
				return n
			}
		}
	}
	n, err := strconv.Atoi(pathNumber)
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeLenderResponse(w http.ResponseWriter, status int, resp wireResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
