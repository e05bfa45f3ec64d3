package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tradewire/internal/domain"
)

// --- Shared HTTP plumbing for the live adapters ---

// requestTimeout bounds every single broker call. Signal handling has no
// overall deadline, so the per-request timeout is the only backstop against
// a hung venue.
const requestTimeout = 5 * time.Second

// newHTTPClient returns the client used by the live adapters.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// newLimiter returns the per-adapter request limiter. Ten requests per
// second with a small burst sits well under every venue's published limits
// while still letting a close-then-open plan run back to back.
func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(10), 5)
}

// doJSON performs one JSON request against a venue: it waits for the rate
// limiter, marshals in (when non-nil) as the request body, sends the
// request with the given headers, and decodes a 2xx response into out (when
// non-nil). Non-2xx statuses are mapped onto the error taxonomy by
// statusErr. The raw response body is returned so callers can inspect
// venue-specific error payloads.
func doJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, name, method, url string, headers map[string]string, in, out any) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, domain.Errorf(domain.KindDependency, "%s: waiting for rate limiter: %w", name, err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, domain.Errorf(domain.KindUnexpected, "%s: encoding request: %w", name, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, domain.Errorf(domain.KindUnexpected, "%s: building request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.Errorf(domain.KindDependency, "%s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Errorf(domain.KindDependency, "%s: reading response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, statusErr(name, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, domain.Errorf(domain.KindUnexpected, "%s: decoding response: %w", name, err)
		}
	}
	return raw, nil
}

// statusErr maps a venue HTTP status onto the error taxonomy. The response
// body is folded into the message, truncated so a verbose venue cannot
// bloat logs or journal rows.
func statusErr(name string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.Errorf(domain.KindAuthentication, "%s: authentication rejected (status %d): %s", name, status, msg)
	case http.StatusNotFound:
		return domain.Errorf(domain.KindLookup, "%s: not found (status %d): %s", name, status, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.Errorf(domain.KindValidation, "%s: request rejected (status %d): %s", name, status, msg)
	default:
		return domain.Errorf(domain.KindDependency, "%s: unexpected status %d: %s", name, status, msg)
	}
}
