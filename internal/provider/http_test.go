package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roomdoor/fan-out-call/internal/catalog"
	"github.com/roomdoor/fan-out-call/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newSimulatorServer(t *testing.T, cfg SimulatorConfig) *httptest.Server {
	t.Helper()
	sim := NewSimulator(cfg, discardLogger(), WithRand(rand.New(rand.NewPCG(1, 2))))
	srv := httptest.NewServer(sim)
	t.Cleanup(srv.Close)
	return srv
}

func fastConfig(successRate int) SimulatorConfig {
	return SimulatorConfig{
		ProviderCount:      5,
		MinLatency:         time.Millisecond,
		MaxLatency:         2 * time.Millisecond,
		SuccessRatePercent: successRate,
	}
}

var testQuery = model.LoanQuery{BorrowerID: "B-1", AnnualIncome: 10_000, RequestedAmount: 50_000}

func TestHTTPClientApproved(t *testing.T) {
	srv := newSimulatorServer(t, fastConfig(100))
	c := NewHTTPClient(srv.URL+"/", nil, discardLogger())
	p := catalog.Profile(2)

	out, err := c.Call(context.Background(), p, testQuery, c.BuildRequest(testQuery))
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out.HTTPStatus != http.StatusOK {
		t.Errorf("HTTPStatus = %d, want 200", out.HTTPStatus)
	}
	if out.ResponseCode != "S000" || out.ResponseMessage != "Approved" {
		t.Errorf("code/message = %s/%s, want S000/Approved", out.ResponseCode, out.ResponseMessage)
	}
	// min(50000, round(10000*1.1)) = 11000
	if out.ApprovedLimit == nil || *out.ApprovedLimit != 11_000 {
		t.Errorf("ApprovedLimit = %v, want 11000", out.ApprovedLimit)
	}
	if !IsSuccess(out) {
		t.Error("IsSuccess() = false, want true")
	}
}

func TestHTTPClientRejected(t *testing.T) {
	srv := newSimulatorServer(t, fastConfig(0))
	c := NewHTTPClient(srv.URL, nil, discardLogger())

	out, err := c.Call(context.Background(), catalog.Profile(1), testQuery, BuildRequest(testQuery))
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", out.HTTPStatus)
	}
	if out.ResponseCode != "E503" || out.ResponseMessage != "Upstream timeout" {
		t.Errorf("code/message = %s/%s", out.ResponseCode, out.ResponseMessage)
	}
	if out.ApprovedLimit != nil {
		t.Errorf("ApprovedLimit = %d, want nil", *out.ApprovedLimit)
	}
	if IsSuccess(out) {
		t.Error("IsSuccess() = true, want false")
	}
}

func TestHTTPClientSendsHostAndHeaders(t *testing.T) {
	var gotHost, gotReqID, gotBorrower, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotReqID = r.Header.Get("X-Request-Id")
		gotBorrower = r.Header.Get("X-Borrower-Id")
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, `{"status":{"code":"S000","message":"SUCCESS"},"data":{"limit":1}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), discardLogger())
	p := catalog.Profile(7)
	if _, err := c.Call(context.Background(), p, testQuery, "{}"); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if gotHost != p.Host {
		t.Errorf("Host = %q, want %q", gotHost, p.Host)
	}
	if gotPath != p.URL {
		t.Errorf("path = %q, want %q", gotPath, p.URL)
	}
	if gotReqID == "" {
		t.Error("X-Request-Id header missing")
	}
	if gotBorrower != "B-1" {
		t.Errorf("X-Borrower-Id = %q, want B-1", gotBorrower)
	}
}

func TestHTTPClientMalformedResponse(t *testing.T) {
	bodies := []string{"not json", `{"status":{}}`}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))

		c := NewHTTPClient(srv.URL, nil, discardLogger())
		_, err := c.Call(context.Background(), catalog.Profile(1), testQuery, "{}")
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("body %q: Call() error = %v, want ErrMalformedResponse", body, err)
		}
		srv.Close()
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	cfg := fastConfig(100)
	cfg.MinLatency = 500 * time.Millisecond
	cfg.MaxLatency = 500 * time.Millisecond
	srv := newSimulatorServer(t, cfg)
	c := NewHTTPClient(srv.URL, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Call(ctx, catalog.Profile(1), testQuery, BuildRequest(testQuery))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Call() took %v, want it bounded by the ctx deadline", elapsed)
	}
}
