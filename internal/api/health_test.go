package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/roomdoor/fan-out-call/internal/fanout"
)

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthzStoreDown(t *testing.T) {
	srv := newTestServer(t)
	srv.store.Close()

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/healthz")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	for _, name := range []string{
		"loanlimit_http_requests_total",
		"loanlimit_http_request_duration_seconds",
		"loanlimit_provider_calls_total",
		"loanlimit_query_submissions_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// scrapeCounter reads one series value from /metrics, or 0 when absent.
func scrapeCounter(t *testing.T, baseURL, series string) float64 {
	t.Helper()
	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		value, ok := strings.CutPrefix(sc.Text(), series+" ")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			t.Fatalf("parse %s value %q: %v", series, value, err)
		}
		return v
	}
	return 0
}

func TestSubmissionMetricsByMode(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	accepted := `loanlimit_query_submissions_total{mode="` + fanout.ModeBounded + `",outcome="accepted"}`
	unknown := `loanlimit_query_submissions_total{mode="unknown",outcome="invalid"}`
	invalid := `loanlimit_query_submissions_total{mode="` + fanout.ModeSequential + `",outcome="invalid"}`

	before := map[string]float64{}
	for _, series := range []string{accepted, unknown, invalid} {
		before[series] = scrapeCounter(t, ts.URL, series)
	}

	resp := submit(t, ts.URL, fanout.ModeBounded, testQuery)
	snap := decodeSnapshot(t, resp)
	waitTerminal(t, srv, snap.TransactionNo)

	submit(t, ts.URL, "warp-speed", testQuery).Body.Close()
	submit(t, ts.URL, "warp-drive", testQuery).Body.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/loan-limit/"+fanout.ModeSequential+"/queries", strings.NewReader("{"))
	req.Header.Set(headerBorrowerID, testQuery.BorrowerID)
	bad, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	bad.Body.Close()

	want := map[string]float64{accepted: 1, unknown: 2, invalid: 1}
	for series, delta := range want {
		if got := scrapeCounter(t, ts.URL, series) - before[series]; got != delta {
			t.Errorf("%s grew by %v, want %v", series, got, delta)
		}
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "warp-") {
		t.Error("unregistered mode leaked into metric labels")
	}
}
