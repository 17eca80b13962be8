package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun() *model.Run {
	return &model.Run{
		ExternalID:             model.NewID(),
		BorrowerID:             "B-1",
		Mode:                   "bounded",
		RequestedProviderCount: 5,
		Status:                 model.StatusInProgress,
		StartedAt:              time.Now().UTC().Truncate(time.Millisecond),
	}
}

func makeTestResult(runID int64, code string, success bool) *model.CallResult {
	now := time.Now().UTC().Truncate(time.Millisecond)
	r := &model.CallResult{
		RunID:           runID,
		ProviderCode:    code,
		Host:            "api." + code + ".mock.finance.local",
		URL:             "/v1/loan-limit/check/" + code,
		Success:         success,
		ResponseCode:    "S000",
		ResponseMessage: "Approved",
		LatencyMs:       12,
		RequestPayload:  `{"customer":{"id":"B-1"}}`,
		ResponsePayload: `{"status":{"code":"S000"}}`,
		RequestedAt:     now,
		RespondedAt:     now.Add(12 * time.Millisecond),
	}
	if success {
		status := 200
		limit := int64(1000)
		r.HTTPStatus = &status
		r.ApprovedLimit = &limit
	} else {
		detail := "boom"
		r.ResponseCode = "EXCEPTION"
		r.ResponseMessage = "External call failed"
		r.ErrorDetail = &detail
	}
	return r
}

func createRun(t *testing.T, s Store) *model.Run {
	t.Helper()
	r := makeTestRun()
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	if r.ID == 0 {
		t.Fatal("CreateRun did not assign an id")
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ExternalID != r.ExternalID {
		t.Errorf("ExternalID = %q, want %q", got.ExternalID, r.ExternalID)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusInProgress)
	}
	if got.Mode != "bounded" || got.BorrowerID != "B-1" || got.RequestedProviderCount != 5 {
		t.Errorf("run fields = %+v", got)
	}
	if !got.StartedAt.Equal(r.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, r.StartedAt)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}

	byExt, err := s.GetRunByExternalID(ctx, r.ExternalID)
	if err != nil {
		t.Fatalf("GetRunByExternalID: %v", err)
	}
	if byExt.ID != r.ID {
		t.Errorf("GetRunByExternalID id = %d, want %d", byExt.ID, r.ID)
	}
}

func TestRunIDsIncrease(t *testing.T) {
	s := newTestStore(t)
	a := createRun(t, s)
	b := createRun(t, s)
	if b.ID <= a.ID {
		t.Errorf("second run id %d not greater than first %d", b.ID, a.ID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRunByExternalID(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRunByExternalID error = %v, want ErrNotFound", err)
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)
	finished := time.Now().UTC().Truncate(time.Millisecond)

	err := s.FinishRun(ctx, RunFinish{
		RunID:      r.ID,
		Status:     model.StatusPartialFailure,
		Counts:     model.ResultCounts{Success: 3, Failure: 2},
		FinishedAt: finished,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusPartialFailure {
		t.Errorf("Status = %q, want PARTIAL_FAILURE", got.Status)
	}
	if got.SuccessCount != 3 || got.FailureCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", got.SuccessCount, got.FailureCount)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestFinishRunStoresFailureReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	err := s.FinishRun(ctx, RunFinish{
		RunID:         r.ID,
		Status:        model.StatusFailed,
		FailureReason: "persist exhausted",
		FinishedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.FailureReason != "persist exhausted" {
		t.Errorf("FailureReason = %q, want %q", got.FailureReason, "persist exhausted")
	}
}

func TestFinishRunOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	first := RunFinish{RunID: r.ID, Status: model.StatusCompleted, Counts: model.ResultCounts{Success: 5}, FinishedAt: time.Now()}
	if err := s.FinishRun(ctx, first); err != nil {
		t.Fatalf("first FinishRun: %v", err)
	}

	second := RunFinish{RunID: r.ID, Status: model.StatusFailed, FinishedAt: time.Now()}
	if err := s.FinishRun(ctx, second); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second FinishRun error = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q after rejected transition, want COMPLETED", got.Status)
	}
}

func TestFinishRunRejectsNonTerminal(t *testing.T) {
	s := newTestStore(t)
	r := createRun(t, s)

	err := s.FinishRun(context.Background(), RunFinish{RunID: r.ID, Status: model.StatusInProgress, FinishedAt: time.Now()})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishRun error = %v, want ErrInvalidTransition", err)
	}
}

func TestFinishRunNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), RunFinish{RunID: 42, Status: model.StatusFailed, FinishedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun error = %v, want ErrNotFound", err)
	}
}

func TestInsertAndListCallResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	in := []*model.CallResult{
		makeTestResult(r.ID, "LENDER-02", true),
		makeTestResult(r.ID, "LENDER-01", false),
	}
	for _, res := range in {
		if err := s.InsertCallResult(ctx, res); err != nil {
			t.Fatalf("InsertCallResult: %v", err)
		}
		if res.ID == 0 {
			t.Error("InsertCallResult did not assign an id")
		}
	}

	got, err := s.ListCallResults(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListCallResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Insertion order.
	if got[0].ProviderCode != "LENDER-02" || got[1].ProviderCode != "LENDER-01" {
		t.Errorf("order = %s, %s", got[0].ProviderCode, got[1].ProviderCode)
	}

	ok := got[0]
	if !ok.Success || ok.HTTPStatus == nil || *ok.HTTPStatus != 200 || ok.ApprovedLimit == nil || *ok.ApprovedLimit != 1000 {
		t.Errorf("success row = %+v", ok)
	}
	if ok.ErrorDetail != nil {
		t.Errorf("ErrorDetail = %q, want nil", *ok.ErrorDetail)
	}
	if !ok.RequestedAt.Equal(in[0].RequestedAt) {
		t.Errorf("RequestedAt = %v, want %v", ok.RequestedAt, in[0].RequestedAt)
	}

	failed := got[1]
	if failed.Success || failed.HTTPStatus != nil || failed.ApprovedLimit != nil {
		t.Errorf("failure row = %+v", failed)
	}
	if failed.ErrorDetail == nil || *failed.ErrorDetail != "boom" {
		t.Errorf("ErrorDetail = %v, want boom", failed.ErrorDetail)
	}
}

func TestInsertCallResultDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	if err := s.InsertCallResult(ctx, makeTestResult(r.ID, "LENDER-01", true)); err != nil {
		t.Fatalf("InsertCallResult: %v", err)
	}
	err := s.InsertCallResult(ctx, makeTestResult(r.ID, "LENDER-01", false))
	if !errors.Is(err, ErrDuplicateResult) {
		t.Fatalf("duplicate insert error = %v, want ErrDuplicateResult", err)
	}
	if IsTransient(err) {
		t.Error("duplicate insert classified as transient")
	}

	got, _ := s.ListCallResults(ctx, r.ID)
	if len(got) != 1 {
		t.Errorf("rows = %d, want 1", len(got))
	}
}

func TestCountCallResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)
	other := createRun(t, s)

	empty, err := s.CountCallResults(ctx, r.ID)
	if err != nil {
		t.Fatalf("CountCallResults: %v", err)
	}
	if empty.Completed() != 0 {
		t.Errorf("empty counts = %+v", empty)
	}

	for i := 1; i <= 5; i++ {
		res := makeTestResult(r.ID, fmt.Sprintf("LENDER-%02d", i), i <= 3)
		if err := s.InsertCallResult(ctx, res); err != nil {
			t.Fatalf("InsertCallResult: %v", err)
		}
	}
	if err := s.InsertCallResult(ctx, makeTestResult(other.ID, "LENDER-01", true)); err != nil {
		t.Fatalf("InsertCallResult: %v", err)
	}

	c, err := s.CountCallResults(ctx, r.ID)
	if err != nil {
		t.Fatalf("CountCallResults: %v", err)
	}
	if c.Success != 3 || c.Failure != 2 {
		t.Errorf("counts = %+v, want 3/2", c)
	}
}

func TestConcurrentInsertsInMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRun(t, s)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Go(func() {
			errs <- s.InsertCallResult(ctx, makeTestResult(r.ID, fmt.Sprintf("LENDER-%02d", i), true))
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent InsertCallResult: %v", err)
		}
	}

	c, _ := s.CountCallResults(ctx, r.ID)
	if c.Success != 20 {
		t.Errorf("Success = %d, want 20", c.Success)
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createRun(t, s)
	b := createRun(t, s)
	createRun(t, s) // still in progress

	_ = s.InsertCallResult(ctx, makeTestResult(a.ID, "LENDER-01", true))
	_ = s.InsertCallResult(ctx, makeTestResult(a.ID, "LENDER-02", true))
	_ = s.InsertCallResult(ctx, makeTestResult(b.ID, "LENDER-01", false))
	_ = s.InsertCallResult(ctx, makeTestResult(b.ID, "LENDER-02", true))

	if err := s.FinishRun(ctx, RunFinish{RunID: a.ID, Status: model.StatusCompleted, Counts: model.ResultCounts{Success: 2}, FinishedAt: a.StartedAt.Add(100 * time.Millisecond)}); err != nil {
		t.Fatalf("FinishRun a: %v", err)
	}
	if err := s.FinishRun(ctx, RunFinish{RunID: b.ID, Status: model.StatusPartialFailure, Counts: model.ResultCounts{Success: 1, Failure: 1}, FinishedAt: b.StartedAt.Add(300 * time.Millisecond)}); err != nil {
		t.Fatalf("FinishRun b: %v", err)
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus["COMPLETED"] != 1 || stats.CountByStatus["PARTIAL_FAILURE"] != 1 || stats.CountByStatus["IN_PROGRESS"] != 1 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.CountByMode["bounded"] != 3 {
		t.Errorf("CountByMode = %v", stats.CountByMode)
	}
	if stats.AvgElapsedMS != 200 {
		t.Errorf("AvgElapsedMS = %v, want 200", stats.AvgElapsedMS)
	}
	if stats.ProviderCalls != 4 || stats.ProviderSuccessRatio != 0.75 {
		t.Errorf("provider calls = %d ratio %v, want 4 / 0.75", stats.ProviderCalls, stats.ProviderSuccessRatio)
	}
}

func TestGetRunStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.GetRunStats(context.Background())
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgElapsedMS != 0 || stats.ProviderCalls != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
	if stats.CountByStatus == nil || stats.CountByMode == nil {
		t.Error("count maps must be non-nil")
	}
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	r := createRun(t, s1)
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetRun(context.Background(), r.ID); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
}

func TestClassifySQLitePassesThroughOtherErrors(t *testing.T) {
	base := errors.New("disk full")
	if err := classifySQLite(base); err != base {
		t.Errorf("classifySQLite() = %v, want the original error", err)
	}
	if IsTransient(base) {
		t.Error("plain error classified as transient")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "", ""); err == nil {
		t.Error("Open(mysql) error = nil, want error")
	}
	if _, err := Open(context.Background(), DriverPostgres, "", ""); err == nil {
		t.Error("Open(postgres) without url error = nil, want error")
	}
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open(context.Background(), DriverSQLite, ":memory:", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
