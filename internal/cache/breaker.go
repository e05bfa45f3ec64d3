package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradewire/internal/metrics"
)

// ErrBypassed is returned by Put and Delete while the circuit breaker is
// open: the backing store was not touched.
var ErrBypassed = errors.New("cache: circuit breaker open, store bypassed")

// probeKey is the key read by Probe. It never needs to exist; a miss is
// still a healthy backend response.
const probeKey = "breaker_probe"

// BreakerStore wraps a Store with a consecutive-failure circuit breaker.
// Once the backend fails threshold times in a row, reads report a miss and
// writes return ErrBypassed without touching the backend, so a degraded
// cache cannot amplify latency into the trading path. The counter is
// process-local: it guards this process's view of the backend and starts
// fresh on every cold start.
type BreakerStore struct {
	store     Store
	threshold int
	rec       metrics.Recorder

	mu       sync.Mutex
	failures int
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps store. A non-positive threshold falls back to 3.
// rec may be nil.
func NewBreakerStore(store Store, threshold int, rec metrics.Recorder) *BreakerStore {
	if threshold <= 0 {
		threshold = 3
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &BreakerStore{store: store, threshold: threshold, rec: rec}
}

func (b *BreakerStore) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold
}

// observe applies one backend outcome to the failure counter. Any error
// increments; any success resets to zero, closing an open breaker
// immediately. There is no half-open state: recovery is optimistic, and
// under sustained partial degradation the breaker can oscillate.
func (b *BreakerStore) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		return
	}
	b.failures = 0
}

// Get proxies to the backing store unless the breaker is open, in which
// case it reports a miss so the caller falls back to the expensive path.
func (b *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	if b.open() {
		b.rec.Inc(metrics.CacheBreakerActive)
		return "", false, nil
	}
	value, ok, err := b.store.Get(ctx, key)
	b.observe(err)
	if err != nil {
		b.rec.Inc(metrics.CacheError)
		return "", false, err
	}
	return value, ok, nil
}

// Put proxies to the backing store unless the breaker is open, in which
// case it returns ErrBypassed. The bypass is read-and-write symmetric.
func (b *BreakerStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if b.open() {
		b.rec.Inc(metrics.CacheBreakerActive)
		return ErrBypassed
	}
	err := b.store.Put(ctx, key, value, ttl)
	b.observe(err)
	if err != nil {
		b.rec.Inc(metrics.CacheError)
	}
	return err
}

// Delete proxies to the backing store unless the breaker is open, in which
// case it returns ErrBypassed.
func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	if b.open() {
		b.rec.Inc(metrics.CacheBreakerActive)
		return ErrBypassed
	}
	err := b.store.Delete(ctx, key)
	b.observe(err)
	if err != nil {
		b.rec.Inc(metrics.CacheError)
	}
	return err
}

// Probe issues one direct backend read regardless of breaker state and
// applies the outcome to the failure counter. A successful probe closes an
// open breaker; the health endpoint calls this so a recovered backend is
// picked up without waiting for organic traffic.
func (b *BreakerStore) Probe(ctx context.Context) error {
	_, _, err := b.store.Get(ctx, probeKey)
	b.observe(err)
	if err != nil {
		b.rec.Inc(metrics.CacheError)
	}
	return err
}

// Status reports "active" while the breaker is closed and "bypassed" once
// it is open, for inclusion in responses.
func (b *BreakerStore) Status() string {
	if b.open() {
		return "bypassed"
	}
	return "active"
}

// Failures returns the current consecutive-failure count.
func (b *BreakerStore) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
