package api

import (
	"encoding/json"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"tradewire/internal/broker"
	"tradewire/internal/domain"
	"tradewire/internal/journal"
	"tradewire/internal/metrics"
)

// handleWebhook ingests one alert, runs it through the engine, and reports
// the resulting execution.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid JSON payload", string(domain.KindValidation))
		return
	}

	exchange, err := domain.ParseExchange(req.MarketData.Exchange)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	direction, err := domain.ParseDirection(req.Signal.Direction)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.MarketData.Symbol))
	if symbol == "" {
		s.writeError(w, r, http.StatusBadRequest, "market_data.symbol is required", string(domain.KindValidation))
		return
	}

	s.rec.Inc(metrics.WebhookReceived(string(exchange)))
	s.log.Info("webhook received",
		"exchange", exchange,
		"symbol", symbol,
		"direction", direction,
		"signal_timestamp", req.MarketData.Timestamp,
		"request_id", RequestID(r.Context()),
	)

	sig := domain.Signal{
		Exchange:   exchange,
		Symbol:     symbol,
		Direction:  direction,
		ReceivedAt: time.Now().UTC(),
	}
	exec, err := s.handler.Handle(r.Context(), sig)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Message:   statusMessage(exec.Status()),
		Execution: toExecutionJSON(exec),
	})
}

func statusMessage(status domain.StepStatus) string {
	if status == domain.StepSkipped {
		return "No trade action required"
	}
	return "Trade executed successfully"
}

func toExecutionJSON(exec domain.Execution) executionJSON {
	steps := make([]stepJSON, len(exec.Steps))
	for i, st := range exec.Steps {
		step := stepJSON{
			Action: st.Action.String(),
			Status: string(st.Status),
			Detail: st.Detail,
		}
		if st.Err != nil {
			step.Error = st.Err.Error()
		}
		steps[i] = step
	}
	return executionJSON{
		ID:          exec.ID,
		Exchange:    string(exec.Signal.Exchange),
		Symbol:      exec.Signal.Symbol,
		Instrument:  exec.Instrument,
		Direction:   string(exec.Signal.Direction),
		Status:      string(exec.Status()),
		Plan:        exec.Plan.String(),
		Steps:       steps,
		CacheStatus: exec.CacheStatus,
		DurationMS:  exec.Duration.Milliseconds(),
	}
}

// handleHealthcheck reports process health, cache breaker state, and the
// metrics snapshot.
func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Memory: healthMemory{
			AllocMB:     roundMB(mem.Alloc),
			SysMB:       roundMB(mem.Sys),
			GCCycles:    mem.NumGC,
			HeapObjects: mem.HeapObjects,
		},
		Runtime: healthRuntime{
			GoVersion:  runtime.Version(),
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			Goroutines: runtime.NumGoroutine(),
		},
		Uptime:  int64(time.Since(s.started).Seconds()),
		Metrics: s.rec.Snapshot(),
	}
	if s.prober != nil {
		probe := "ok"
		if err := s.prober.Probe(r.Context()); err != nil {
			probe = err.Error()
		}
		resp.Cache = healthCache{
			Status:   s.prober.Status(),
			Failures: s.prober.Failures(),
			Probe:    probe,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func roundMB(b uint64) float64 {
	return math.Round(float64(b)/(1<<20)*100) / 100
}

// adapterStatus builds the handler for one broker's account status
// endpoint.
func (s *Server) adapterStatus(a broker.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			s.writeError(w, r, http.StatusServiceUnavailable, "broker not configured", string(domain.KindDependency))
			return
		}
		status, err := a.AccountStatus(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// handleExecutions lists recent journal entries, newest first.
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer", string(domain.KindValidation))
			return
		}
		limit = n
	}

	if s.journal == nil {
		writeJSON(w, http.StatusOK, executionsResponse{Executions: []journal.Entry{}})
		return
	}
	entries, err := s.journal.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read execution journal", string(domain.KindDependency))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, executionsResponse{Executions: entries, Count: len(entries)})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "Endpoint not found", string(domain.KindLookup))
}
