package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
)

const headerBorrowerID = "X-Borrower-Id"

// StrategyResponse is one entry of GET /api/v1/strategies.
type StrategyResponse struct {
	Mode        string `json:"mode"`
	Description string `json:"description"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	ByMode               map[string]int `json:"by_mode"`
	AvgElapsedMS         float64        `json:"avg_elapsed_ms"`
	ProviderCalls        int            `json:"provider_calls"`
	ProviderSuccessRatio float64        `json:"provider_success_ratio"`
}

// Event is one server-sent event of a run stream.
type Event struct {
	Name string
	Data string
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is an HTTP client for the gateway API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Submit starts a run for q using the given fan-out mode.
func (c *Client) Submit(ctx context.Context, mode string, q model.LoanQuery) (*model.RunSnapshot, error) {
	var snap model.RunSnapshot
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/loan-limit/"+mode+"/queries", q.BorrowerID, q, &snap)
	return &snap, err
}

// GetRun fetches a run snapshot. A numeric ref is a transaction number,
// anything else a transaction id.
func (c *Client) GetRun(ctx context.Context, ref, borrowerID string) (*model.RunSnapshot, error) {
	path := "/api/v1/loan-limit/queries/request/" + ref
	if _, err := strconv.ParseInt(ref, 10, 64); err == nil {
		path = "/api/v1/loan-limit/queries/number/" + ref
	}

	var snap model.RunSnapshot
	err := c.doJSON(ctx, http.MethodGet, path, borrowerID, nil, &snap)
	return &snap, err
}

// ListStrategies returns the registered fan-out strategies.
func (c *Client) ListStrategies(ctx context.Context) ([]StrategyResponse, error) {
	var strategies []StrategyResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/strategies", "", nil, &strategies)
	return strategies, err
}

// Stats returns aggregate run statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var stats StatsResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/stats", "", nil, &stats)
	return &stats, err
}

// Watch streams the events of run transactionNo to fn until the server
// closes the stream, fn returns an error, or ctx is done.
func (c *Client) Watch(ctx context.Context, transactionNo int64, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/loan-limit/queries/number/"+strconv.FormatInt(transactionNo, 10)+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the request timeout of the shared client.
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses a text/event-stream body into events.
func readEvents(r io.Reader, fn func(Event) error) error {
	var (
		ev   Event
		data []string
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name == "" && len(data) == 0 {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if err := fn(ev); err != nil {
				return err
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (c *Client) doJSON(ctx context.Context, method, path, borrowerID string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if borrowerID != "" {
		req.Header.Set(headerBorrowerID, borrowerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: HTTP %d: %s", resp.StatusCode, er.Error)
}
