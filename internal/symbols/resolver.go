// Package symbols resolves continuous futures symbols such as "NQ1!" to the
// concrete contract currently leading that product by traded volume. The
// ranking comes from the databento historical API over the previous business
// day's session, and resolved mappings are cached so repeated signals inside
// one session skip the vendor round trip.
package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tradewire/internal/cache"
	"tradewire/internal/config"
	"tradewire/internal/domain"
	"tradewire/internal/metrics"
	"tradewire/internal/util"
)

// maxRanked caps how many instruments are carried from the volume ranking
// into symbology resolution.
const maxRanked = 100

// cachedMapping is the JSON value stored under cache.SymbolKey.
type cachedMapping struct {
	Continuous string `json:"continuous_symbol"`
	Contract   string `json:"actual_symbol"`
	CachedAt   string `json:"cached_at"`
}

// statusReporter is implemented by cache stores that expose breaker state.
type statusReporter interface {
	Status() string
}

// Resolver maps continuous symbols to tradable contracts, reading through
// the cache.
type Resolver struct {
	market   MarketData
	store    cache.Store
	universe []string
	ttl      time.Duration
	rec      metrics.Recorder
	log      *slog.Logger
	now      func() time.Time
}

// NewResolver builds a Resolver over the given vendor and cache store.
// rec and log may be nil.
func NewResolver(market MarketData, store cache.Store, cfg config.Symbols, rec metrics.Recorder, log *slog.Logger) *Resolver {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = cache.SymbolTTL
	}
	return &Resolver{
		market:   market,
		store:    store,
		universe: append([]string(nil), cfg.Universe...),
		ttl:      ttl,
		rec:      rec,
		log:      log.With("component", "symbols"),
		now:      time.Now,
	}
}

// Resolve returns the tradable contract for a continuous symbol, along with
// the cache status ("active" or "bypassed") in effect for the call. Cache
// hits return immediately; misses run the full discovery pipeline and cache
// the requested pair.
func (r *Resolver) Resolve(ctx context.Context, continuous string) (string, string, error) {
	continuous = strings.ToUpper(strings.TrimSpace(continuous))

	key := cache.SymbolKey(continuous)
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warn("symbol cache read failed", "symbol", continuous, "error", err)
	}
	if ok {
		var m cachedMapping
		if jerr := json.Unmarshal([]byte(raw), &m); jerr == nil && m.Contract != "" {
			r.rec.Inc(metrics.SymbolCacheHit)
			r.log.Info("symbol cache hit", "symbol", continuous, "contract", m.Contract)
			return m.Contract, r.cacheStatus(), nil
		}
		r.log.Warn("discarding malformed symbol cache entry", "symbol", continuous)
	}

	r.rec.Inc(metrics.SymbolCacheMiss)
	r.log.Info("symbol cache miss, running contract discovery", "symbol", continuous)

	mapping, err := r.build(ctx)
	if err != nil {
		return "", r.cacheStatus(), err
	}
	contract, ok := mapping[continuous]
	if !ok {
		return "", r.cacheStatus(), domain.Errorf(domain.KindLookup, "symbols: no matching contract found for %s", continuous)
	}

	r.save(ctx, continuous, contract)
	return contract, r.cacheStatus(), nil
}

// Warm runs the discovery pipeline once and caches every resulting pair.
// It returns the full continuous-to-contract mapping.
func (r *Resolver) Warm(ctx context.Context) (map[string]string, error) {
	mapping, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	for continuous, contract := range mapping {
		r.save(ctx, continuous, contract)
	}
	return mapping, nil
}

// build runs the discovery pipeline: rank the continuous universe by the
// previous session's volume, resolve the leading instrument ids to raw
// contract symbols, drop spread legs, and keep the highest-volume contract
// per product root keyed as root + "1!".
func (r *Resolver) build(ctx context.Context) (map[string]string, error) {
	day := util.PreviousBusinessDay(r.now()).Format("2006-01-02")

	requested := make([]string, len(r.universe))
	for i, root := range r.universe {
		requested[i] = root + ".n.0"
	}

	bars, err := r.market.DailyVolumes(ctx, requested, day)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.Errorf(domain.KindDependency, "symbols: no volume data for session %s", day)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Volume > bars[j].Volume })
	if len(bars) > maxRanked {
		bars = bars[:maxRanked]
	}
	ids := make([]int64, len(bars))
	for i, b := range bars {
		ids[i] = b.InstrumentID
	}

	names, err := r.market.ResolveInstruments(ctx, ids, day)
	if err != nil {
		return nil, err
	}

	// Iterate in rank order so the first contract seen per root is the
	// highest-volume one.
	mapping := make(map[string]string)
	for _, id := range ids {
		contract, ok := names[id]
		if !ok || strings.Contains(contract, "-") {
			continue
		}
		front := Root(contract) + "1!"
		if _, seen := mapping[front]; seen {
			continue
		}
		mapping[front] = contract
	}
	r.log.Info("contract discovery complete", "session", day, "ranked", len(ids), "mapped", len(mapping))
	return mapping, nil
}

func (r *Resolver) save(ctx context.Context, continuous, contract string) {
	m := cachedMapping{
		Continuous: continuous,
		Contract:   contract,
		CachedAt:   r.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := r.store.Put(ctx, cache.SymbolKey(continuous), string(raw), r.ttl); err != nil {
		if errors.Is(err, cache.ErrBypassed) {
			r.log.Warn("symbol cache write bypassed", "symbol", continuous)
			return
		}
		r.log.Warn("symbol cache write failed", "symbol", continuous, "error", err)
		return
	}
	r.log.Info("cached symbol mapping", "symbol", continuous, "contract", contract, "ttl", r.ttl.String())
}

func (r *Resolver) cacheStatus() string {
	if s, ok := r.store.(statusReporter); ok {
		return s.Status()
	}
	return "active"
}
