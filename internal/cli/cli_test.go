package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// fakeAPI records requests and answers with canned gateway responses.
type fakeAPI struct {
	mu      sync.Mutex
	paths   []string
	headers []string
	bodies  []model.LoanQuery
}

// first returns the first recorded request.
func (f *fakeAPI) first() (path, header string, body model.LoanQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) > 0 {
		body = f.bodies[0]
	}
	return f.paths[0], f.headers[0], body
}

func (f *fakeAPI) handler() http.Handler {
	limit := int64(30_000_000)
	status := 200
	snap := model.RunSnapshot{
		TransactionNo: 42,
		TransactionID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Status:        model.StatusCompleted,
		Mode:          "bounded",
		SuccessCount:  1,
		StartedAt:     time.Now(),
		Results: []model.ResultView{{
			ProviderCode: "LENDER-01", Success: true, HTTPStatus: &status,
			ResponseCode: "S000", ResponseMessage: "Approved", ApprovedLimit: &limit,
		}},
	}

	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, r.Method+" "+r.URL.Path)
		f.headers = append(f.headers, r.Header.Get(headerBorrowerID))
	}
	mux.HandleFunc("POST /api/v1/loan-limit/{mode}/queries", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var q model.LoanQuery
		json.NewDecoder(r.Body).Decode(&q)
		f.mu.Lock()
		f.bodies = append(f.bodies, q)
		f.mu.Unlock()
		if r.PathValue("mode") == "telepathic" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unknown fan-out mode: \"telepathic\""}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("GET /api/v1/loan-limit/queries/{kind}/{ref}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("GET /api/v1/loan-limit/queries/number/{no}/events", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		result, _ := json.Marshal(snap.Results[0])
		final, _ := json.Marshal(snap)
		fmt.Fprintf(w, "event: result\ndata: %s\n\n", result)
		fmt.Fprintf(w, "event: finalized\ndata: %s\n\n", final)
		fmt.Fprint(w, "event: done\ndata: stream complete\n\n")
	})
	mux.HandleFunc("GET /api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprint(w, `[{"mode":"bounded","description":"semaphore-bounded parallel calls"}]`)
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprint(w, `{"total":1234,"by_status":{"COMPLETED":1234},"by_mode":{"bounded":1234},"avg_elapsed_ms":1520.5,"provider_calls":61700,"provider_success_ratio":0.9}`)
	})
	return mux
}

// runCmd executes a command against the fake API and returns stdout and stderr.
func runCmd(t *testing.T, api *fakeAPI, newCmd func(func() *Client, func() *Output) *cobra.Command, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	var stdout, stderr bytes.Buffer
	cmd := newCmd(
		func() *Client { return NewClient(ts.URL) },
		func() *Output { return NewOutputTo(&stdout, &stderr, jsonMode) },
	)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestSubmitCommand(t *testing.T) {
	api := &fakeAPI{}
	stdout, stderr, err := runCmd(t, api, NewSubmitCmd, false,
		"--mode", "worker-pool", "--borrower", "B-1", "--income", "60000000", "--amount", "30000000")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	path, header, body := api.first()
	if path != "POST /api/v1/loan-limit/worker-pool/queries" {
		t.Errorf("path = %q", path)
	}
	if header != "B-1" {
		t.Errorf("borrower header = %q, want B-1", header)
	}
	want := model.LoanQuery{BorrowerID: "B-1", AnnualIncome: 60_000_000, RequestedAmount: 30_000_000}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
	if !strings.Contains(stderr, "Run submitted: 42") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "TRANSACTION_ID") || !strings.Contains(stdout, "01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestSubmitCommandAPIError(t *testing.T) {
	_, _, err := runCmd(t, &fakeAPI{}, NewSubmitCmd, false,
		"--mode", "telepathic", "--borrower", "B-1", "--income", "1", "--amount", "1")
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") || !strings.Contains(err.Error(), "telepathic") {
		t.Errorf("err = %v", err)
	}
}

func TestSubmitCommandRequiresBorrower(t *testing.T) {
	if _, _, err := runCmd(t, &fakeAPI{}, NewSubmitCmd, false, "--income", "1"); err == nil {
		t.Error("submit without --borrower succeeded")
	}
}

func TestGetCommandRoutesByReference(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"42", "GET /api/v1/loan-limit/queries/number/42"},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAV", "GET /api/v1/loan-limit/queries/request/01ARZ3NDEKTSV4RRFFQ69G5FAV"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			api := &fakeAPI{}
			stdout, _, err := runCmd(t, api, NewGetCmd, false, tt.ref, "--borrower", "B-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			path, header, _ := api.first()
			if path != tt.want {
				t.Errorf("path = %q, want %q", path, tt.want)
			}
			if header != "B-1" {
				t.Errorf("borrower header = %q", header)
			}
			if !strings.Contains(stdout, "LENDER-01") || !strings.Contains(stdout, "30,000,000") {
				t.Errorf("stdout = %q", stdout)
			}
		})
	}
}

func TestGetCommandJSON(t *testing.T) {
	stdout, _, err := runCmd(t, &fakeAPI{}, NewGetCmd, true, "42", "--borrower", "B-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var snap model.RunSnapshot
	if err := json.Unmarshal([]byte(stdout), &snap); err != nil {
		t.Fatalf("stdout is not a snapshot: %v\n%s", err, stdout)
	}
	if snap.TransactionNo != 42 || snap.Status != model.StatusCompleted {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestWatchCommand(t *testing.T) {
	api := &fakeAPI{}
	stdout, stderr, err := runCmd(t, api, NewWatchCmd, false, "42")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if path, _, _ := api.first(); path != "GET /api/v1/loan-limit/queries/number/42/events" {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(stdout, "LENDER-01") {
		t.Errorf("result not rendered: %q", stdout)
	}
	if !strings.Contains(stderr, "Run 42 finished: COMPLETED") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestWatchCommandRejectsNonNumeric(t *testing.T) {
	if _, _, err := runCmd(t, &fakeAPI{}, NewWatchCmd, false, "abc"); err == nil {
		t.Error("watch accepted a non-numeric transaction number")
	}
}

func TestStrategiesCommand(t *testing.T) {
	stdout, _, err := runCmd(t, &fakeAPI{}, NewStrategiesCmd, false)
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	if !strings.Contains(stdout, "MODE") || !strings.Contains(stdout, "semaphore-bounded") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestStatsCommand(t *testing.T) {
	stdout, _, err := runCmd(t, &fakeAPI{}, NewStatsCmd, false)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"1,234", "61,700", "1,520.5", "90%", "status COMPLETED", "mode bounded"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestReadEventsJoinsMultilineData(t *testing.T) {
	stream := "event: note\ndata: first\ndata: second\n\n: comment\n\nevent: done\ndata: bye\n\n"

	var got []Event
	err := readEvents(strings.NewReader(stream), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}

	want := []Event{{Name: "note", Data: "first\nsecond"}, {Name: "done", Data: "bye"}}
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
