// Package tradewire provides a small HTTP client for the tradewire
// signal service. It covers the webhook endpoint, the health and broker
// status probes, and the execution journal listing.
package tradewire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Client ---

// Client talks to one tradewire server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Types ---

// Step is one executed, skipped, or failed action within a plan.
type Step struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Execution describes how the server handled one signal. ReceivedAt is
// only populated on journal listings; the webhook response omits it.
type Execution struct {
	ID          string    `json:"id"`
	ReceivedAt  time.Time `json:"received_at"`
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Instrument  string    `json:"instrument,omitempty"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	Plan        string    `json:"plan"`
	Steps       []Step    `json:"steps"`
	CacheStatus string    `json:"cache_status,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// SignalResult is the webhook response for an accepted signal.
type SignalResult struct {
	Message   string    `json:"message"`
	Execution Execution `json:"execution"`
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Type       string `json:"error_type"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("tradewire: %s (%s, status %d)", e.Message, e.Type, e.StatusCode)
	}
	return fmt.Sprintf("tradewire: %s (status %d)", e.Message, e.StatusCode)
}

// --- Operations ---

// Health fetches the /healthcheck document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/healthcheck", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BrokerStatus fetches the account status document for one broker.
// Accepted names are "oanda", "tradovate", and "coinbase".
func (c *Client) BrokerStatus(ctx context.Context, broker string) (map[string]any, error) {
	switch broker {
	case "oanda", "tradovate", "coinbase":
	default:
		return nil, fmt.Errorf("tradewire: unknown broker %q", broker)
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/"+broker+"status", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Executions lists recent executions, newest first. limit <= 0 uses the
// server default.
func (c *Client) Executions(ctx context.Context, limit int) ([]Execution, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out struct {
		Executions []Execution `json:"executions"`
		Count      int         `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// SendSignal posts one trading signal to the webhook endpoint. direction
// is "long" or "short"; timestamps are stamped client side.
func (c *Client) SendSignal(ctx context.Context, exchange, symbol, direction string) (*SignalResult, error) {
	payload := map[string]any{
		"signal": map[string]string{
			"direction": direction,
		},
		"market_data": map[string]string{
			"symbol":    symbol,
			"exchange":  exchange,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	var out SignalResult
	if err := c.do(ctx, http.MethodPost, "/webhook", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Transport ---

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("tradewire: encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("tradewire: creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tradewire: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tradewire: decoding response: %w", err)
	}
	return nil
}
