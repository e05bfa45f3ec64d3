// Package api exposes the trading webhook and its operational endpoints
// over HTTP: signal ingestion, per-broker account status, health, and the
// execution journal.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tradewire/internal/domain"
	"tradewire/internal/engine"
	"tradewire/internal/journal"
	"tradewire/internal/metrics"
)

// slowRequestThreshold marks requests worth a warning in the access log.
const slowRequestThreshold = 5 * time.Second

// SignalHandler turns one parsed signal into an execution record.
type SignalHandler interface {
	Handle(ctx context.Context, sig domain.Signal) (domain.Execution, error)
}

var _ SignalHandler = (*engine.Engine)(nil)

// ExecutionLister reads back journaled executions, newest first.
type ExecutionLister interface {
	ListRecent(ctx context.Context, limit int) ([]journal.Entry, error)
}

var _ ExecutionLister = (*journal.Store)(nil)

// CacheProber reports cache circuit breaker health and can test the
// backend directly.
type CacheProber interface {
	Probe(ctx context.Context) error
	Status() string
	Failures() int
}

// Server is the webhook HTTP server.
type Server struct {
	handler  SignalHandler
	adapters engine.Adapters
	journal  ExecutionLister
	prober   CacheProber
	rec      metrics.Recorder
	log      *slog.Logger
	started  time.Time
}

// NewServer wires the HTTP surface. journal and prober may be nil, in which
// case the executions endpoint reports an empty list and the healthcheck
// omits probe results. rec and log may be nil.
func NewServer(handler SignalHandler, adapters engine.Adapters, jl ExecutionLister, prober CacheProber, rec metrics.Recorder, log *slog.Logger) *Server {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handler:  handler,
		adapters: adapters,
		journal:  jl,
		prober:   prober,
		rec:      rec,
		log:      log.With("component", "api"),
		started:  time.Now(),
	}
}

// RegisterRoutes registers all endpoints on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.HandleFunc("GET /oandastatus", s.adapterStatus(s.adapters.Forex))
	mux.HandleFunc("GET /tradovatestatus", s.adapterStatus(s.adapters.Futures))
	mux.HandleFunc("GET /coinbasestatus", s.adapterStatus(s.adapters.Crypto))
	mux.HandleFunc("GET /api/v1/executions", s.handleExecutions)
	mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns the full middleware stack: request id assignment, access
// logging with response metrics, panic recovery, CORS, then routing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.withRequestID(s.withAccessLog(s.withRecovery(corsMiddleware(mux))))
}

// --- Middleware ---

type ctxKey int

const requestIDKey ctxKey = 0

// RequestID returns the request id assigned by the middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID accepts a caller-supplied X-Request-ID or assigns a fresh
// uuid, and echoes it on the response.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withAccessLog logs every request and records the response code, error
// class, and duration metrics.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		s.rec.Inc(metrics.StatusCode(rec.status))
		if rec.status >= 400 {
			s.rec.Inc(metrics.ErrorCount)
			if rec.status >= 500 {
				s.rec.Inc(metrics.ServerErrorCount)
			} else {
				s.rec.Inc(metrics.ClientErrorCount)
			}
		}
		s.rec.Observe(metrics.RequestDuration, duration)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			"request_id", RequestID(r.Context()),
		}
		if duration > slowRequestThreshold {
			s.log.Warn("slow request", attrs...)
			return
		}
		s.log.Info("request completed", attrs...)
	})
}

// withRecovery turns handler panics into a 500 response instead of a dead
// connection.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("handler panic", "panic", v, "path", r.URL.Path,
					"request_id", RequestID(r.Context()))
				s.writeError(w, r, http.StatusInternalServerError,
					"Internal server error", string(domain.KindUnexpected))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg, errorType string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		ErrorType: errorType,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeDomainError maps a classified error onto the response contract.
// Unclassified errors keep their detail in the log only; the response body
// carries the request id, not the internal error text.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindUnexpected {
		s.log.Error("unexpected failure", "error", err, "path", r.URL.Path,
			"request_id", RequestID(r.Context()))
		msg = "Internal server error"
	}
	s.writeError(w, r, domain.HTTPStatus(err), msg, string(kind))
}
