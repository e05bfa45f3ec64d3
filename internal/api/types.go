package api

import "tradewire/internal/journal"

// webhookRequest is the TradingView-style alert payload posted to /webhook.
type webhookRequest struct {
	Signal struct {
		Direction string `json:"direction"`
	} `json:"signal"`
	MarketData struct {
		Symbol    string `json:"symbol"`
		Exchange  string `json:"exchange"`
		Timestamp string `json:"timestamp"`
	} `json:"market_data"`
}

// stepJSON is one plan step in a webhook response.
type stepJSON struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// executionJSON summarizes one handled signal.
type executionJSON struct {
	ID          string     `json:"id"`
	Exchange    string     `json:"exchange"`
	Symbol      string     `json:"symbol"`
	Instrument  string     `json:"instrument"`
	Direction   string     `json:"direction"`
	Status      string     `json:"status"`
	Plan        string     `json:"plan"`
	Steps       []stepJSON `json:"steps"`
	CacheStatus string     `json:"cache_status,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// webhookResponse is the success body for /webhook.
type webhookResponse struct {
	Message   string        `json:"message"`
	Execution executionJSON `json:"execution"`
}

// errorResponse is the error body for every endpoint.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// healthResponse is the /healthcheck body.
type healthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Memory    healthMemory     `json:"memory"`
	Runtime   healthRuntime    `json:"runtime"`
	Uptime    int64            `json:"uptime_seconds"`
	Cache     healthCache      `json:"cache"`
	Metrics   map[string]int64 `json:"metrics"`
}

type healthMemory struct {
	AllocMB     float64 `json:"alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCCycles    uint32  `json:"gc_cycles"`
	HeapObjects uint64  `json:"heap_objects"`
}

type healthRuntime struct {
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	Goroutines int    `json:"goroutines"`
}

type healthCache struct {
	Status   string `json:"status"`
	Failures int    `json:"consecutive_failures"`
	Probe    string `json:"probe"`
}

// executionsResponse is the /api/v1/executions body.
type executionsResponse struct {
	Executions []journal.Entry `json:"executions"`
	Count      int             `json:"count"`
}
