// Package metrics provides a small in-process metrics recorder: named
// counters and duration accumulators surfaced through the health endpoint.
package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Counter and timer names recorded across the service.
const (
	ErrorCount           = "error_count"
	ClientErrorCount     = "client_error_count"
	ServerErrorCount     = "server_error_count"
	RequestDuration      = "request_duration"
	SymbolCacheHit       = "symbol_cache_hit"
	SymbolCacheMiss      = "symbol_cache_miss"
	CacheError           = "cache_error"
	CacheBreakerActive   = "cache_circuit_breaker_active"
	OANDATradeSuccess    = "oanda_trade_success"
	FuturesTradeSuccess  = "futures_trade_success"
	CoinbaseTradeSuccess = "coinbase_trade_success"
)

// WebhookReceived returns the per-exchange webhook counter name.
func WebhookReceived(exchange string) string {
	return strings.ToLower(exchange) + "_webhook_received"
}

// StatusCode returns the per-status response counter name.
func StatusCode(code int) string {
	return "status_code_" + strconv.Itoa(code)
}

// Recorder counts events and accumulates durations.
type Recorder interface {
	// Inc adds one to the named counter.
	Inc(name string)

	// Observe accumulates a duration sample under the named timer.
	Observe(name string, d time.Duration)

	// Snapshot returns a copy of every counter. Timers appear as
	// <name>_ms (accumulated milliseconds) and <name>_count (samples).
	Snapshot() map[string]int64
}

// Registry is the standard Recorder, safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ Recorder = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]int64)}
}

// Inc adds one to the named counter.
func (r *Registry) Inc(name string) {
	r.mu.Lock()
	r.counters[name]++
	r.mu.Unlock()
}

// Observe accumulates a duration sample under the named timer.
func (r *Registry) Observe(name string, d time.Duration) {
	r.mu.Lock()
	r.counters[name+"_ms"] += d.Milliseconds()
	r.counters[name+"_count"]++
	r.mu.Unlock()
}

// Snapshot returns a copy of every counter.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Nop discards every recording. Useful as a default in tests.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Inc(string) {}

func (Nop) Observe(string, time.Duration) {}

func (Nop) Snapshot() map[string]int64 { return nil }
