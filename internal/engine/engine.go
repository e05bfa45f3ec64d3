package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradewire/internal/broker"
	"tradewire/internal/domain"
	"tradewire/internal/metrics"
)

// Resolver maps a continuous futures symbol to a concrete tradable
// contract, reporting how the symbol cache behaved ("active"/"bypassed").
type Resolver interface {
	Resolve(ctx context.Context, continuous string) (contract string, cacheStatus string, err error)
}

// Journal records completed executions. The engine never fails a signal on
// a journaling error; implementations log and move on.
type Journal interface {
	Record(ctx context.Context, exec domain.Execution) error
}

// Adapters groups the per-venue adapters the engine routes between.
type Adapters struct {
	Forex   broker.Adapter
	Futures broker.Adapter
	Crypto  broker.Adapter
}

// Engine turns inbound signals into broker position changes: route to the
// venue adapter, resolve the instrument, read the current position, build
// the reconciliation plan, execute it, and journal the outcome.
type Engine struct {
	adapters Adapters
	resolver Resolver
	journal  Journal
	rec      metrics.Recorder
	log      *slog.Logger
	newID    func() string
}

// NewEngine wires an Engine. resolver may be nil, in which case futures
// symbols pass through unresolved (simulator setups); journal, rec, and log
// may be nil.
func NewEngine(adapters Adapters, resolver Resolver, journal Journal, rec metrics.Recorder, log *slog.Logger) *Engine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		adapters: adapters,
		resolver: resolver,
		journal:  journal,
		rec:      rec,
		log:      log.With("component", "engine"),
		newID:    uuid.NewString,
	}
}

// Handle runs one signal end to end. The returned execution always carries
// whatever progress was made; on failure it is journaled alongside the
// error before returning. Signals for the same instrument are not
// serialized; concurrent webhooks read and change broker state
// independently.
func (e *Engine) Handle(ctx context.Context, sig domain.Signal) (domain.Execution, error) {
	started := time.Now()
	exec := domain.Execution{
		ID:         e.newID(),
		Signal:     sig,
		Instrument: sig.Symbol,
		StartedAt:  started,
	}

	adapter, err := e.route(sig.Exchange)
	if err != nil {
		return e.finish(ctx, exec, started, err)
	}

	if sig.Exchange.IsFutures() && e.resolver != nil {
		contract, cacheStatus, rerr := e.resolver.Resolve(ctx, sig.Symbol)
		exec.CacheStatus = cacheStatus
		if rerr != nil {
			return e.finish(ctx, exec, started, rerr)
		}
		exec.Instrument = contract
	}

	pos, err := adapter.CurrentPosition(ctx, exec.Instrument)
	if err != nil {
		return e.finish(ctx, exec, started, err)
	}

	exec.Plan = BuildPlan(pos.State(), sig.Direction, adapter.Semantics(), adapter.CloseStyle())
	e.log.Info("plan computed",
		"exchange", sig.Exchange,
		"instrument", exec.Instrument,
		"current", pos.State(),
		"desired", sig.Direction,
		"plan", exec.Plan.String(),
	)

	steps, err := ExecutePlan(ctx, adapter, exec.Instrument, exec.Plan)
	exec.Steps = steps
	if err == nil && exec.Status() == domain.StepExecuted {
		e.rec.Inc(successCounter(sig.Exchange))
	}
	return e.finish(ctx, exec, started, err)
}

// route picks the adapter for the exchange.
func (e *Engine) route(x domain.Exchange) (broker.Adapter, error) {
	switch {
	case x == domain.ExchangeOANDA:
		if e.adapters.Forex == nil {
			return nil, domain.Errorf(domain.KindDependency, "no forex adapter configured")
		}
		return e.adapters.Forex, nil
	case x == domain.ExchangeCoinbase:
		if e.adapters.Crypto == nil {
			return nil, domain.Errorf(domain.KindDependency, "no crypto adapter configured")
		}
		return e.adapters.Crypto, nil
	case x.IsFutures():
		if e.adapters.Futures == nil {
			return nil, domain.Errorf(domain.KindDependency, "no futures adapter configured")
		}
		return e.adapters.Futures, nil
	}
	return nil, domain.Errorf(domain.KindValidation, "unsupported exchange %q", x)
}

// finish stamps the duration, journals the execution, and passes the error
// through unchanged.
func (e *Engine) finish(ctx context.Context, exec domain.Execution, started time.Time, err error) (domain.Execution, error) {
	exec.Duration = time.Since(started)
	if err != nil {
		exec.Error = err.Error()
	}
	if e.journal != nil {
		if jerr := e.journal.Record(ctx, exec); jerr != nil {
			e.log.Warn("journal write failed", "execution_id", exec.ID, "error", jerr)
		}
	}
	return exec, err
}

// successCounter names the per-venue trade success metric.
func successCounter(x domain.Exchange) string {
	switch {
	case x == domain.ExchangeOANDA:
		return metrics.OANDATradeSuccess
	case x == domain.ExchangeCoinbase:
		return metrics.CoinbaseTradeSuccess
	default:
		return metrics.FuturesTradeSuccess
	}
}
