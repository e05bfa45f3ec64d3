package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradewire/internal/metrics"
)

// fakeStore counts backend calls and fails on demand.
type fakeStore struct {
	fail    bool
	gets    int
	puts    int
	deletes int
	data    map[string]string
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.gets++
	if f.fail {
		return "", false, errors.New("backend down")
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Put(_ context.Context, key, value string, _ time.Duration) error {
	f.puts++
	if f.fail {
		return errors.New("backend down")
	}
	f.data[key] = value
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deletes++
	if f.fail {
		return errors.New("backend down")
	}
	delete(f.data, key)
	return nil
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	backend := newFakeStore()
	backend.fail = true
	b := NewBreakerStore(backend, 3, nil)
	ctx := context.Background()

	// The first three failing calls all reach the backend.
	for i := 0; i < 3; i++ {
		if _, _, err := b.Get(ctx, "k"); err == nil {
			t.Fatalf("call %d: expected backend error", i+1)
		}
	}
	if backend.gets != 3 {
		t.Fatalf("backend saw %d gets, want 3", backend.gets)
	}

	// The fourth call is bypassed: a clean miss, no backend traffic.
	v, ok, err := b.Get(ctx, "k")
	if err != nil || ok || v != "" {
		t.Errorf("bypassed Get = (%q, %v, %v), want clean miss", v, ok, err)
	}
	if backend.gets != 3 {
		t.Errorf("backend saw %d gets after bypass, want 3", backend.gets)
	}
	if got := b.Status(); got != "bypassed" {
		t.Errorf("Status() = %q, want %q", got, "bypassed")
	}
}

func TestBreakerWriteBypassSymmetry(t *testing.T) {
	backend := newFakeStore()
	backend.fail = true
	b := NewBreakerStore(backend, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Put(ctx, "k", "v", time.Hour)
	}
	if backend.puts != 3 {
		t.Fatalf("backend saw %d puts, want 3", backend.puts)
	}

	// Once open, neither writes nor deletes touch the backend.
	if err := b.Put(ctx, "k", "v", time.Hour); !errors.Is(err, ErrBypassed) {
		t.Errorf("Put while open = %v, want ErrBypassed", err)
	}
	if err := b.Delete(ctx, "k"); !errors.Is(err, ErrBypassed) {
		t.Errorf("Delete while open = %v, want ErrBypassed", err)
	}
	if backend.puts != 3 || backend.deletes != 0 {
		t.Errorf("backend saw %d puts, %d deletes after bypass, want 3, 0", backend.puts, backend.deletes)
	}
}

func TestBreakerProbeRecovers(t *testing.T) {
	backend := newFakeStore()
	backend.fail = true
	b := NewBreakerStore(backend, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Get(ctx, "k")
	}
	if got := b.Status(); got != "bypassed" {
		t.Fatalf("Status() = %q before recovery, want %q", got, "bypassed")
	}

	// The backend comes back; one successful probe closes the breaker.
	backend.fail = false
	if err := b.Probe(ctx); err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if got := b.Status(); got != "active" {
		t.Errorf("Status() after probe = %q, want %q", got, "active")
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("Failures() after probe = %d, want 0", got)
	}

	// Traffic reaches the backend again.
	before := backend.gets
	if _, _, err := b.Get(ctx, "k"); err != nil {
		t.Fatalf("Get after recovery returned error: %v", err)
	}
	if backend.gets != before+1 {
		t.Errorf("backend saw %d gets after recovery, want %d", backend.gets, before+1)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	backend := newFakeStore()
	b := NewBreakerStore(backend, 3, nil)
	ctx := context.Background()

	backend.fail = true
	b.Get(ctx, "k")
	b.Get(ctx, "k")
	if got := b.Failures(); got != 2 {
		t.Fatalf("Failures() = %d, want 2", got)
	}

	backend.fail = false
	if _, _, err := b.Get(ctx, "k"); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("Failures() after success = %d, want 0", got)
	}

	// Two fresh failures are below the threshold, so the breaker stays closed.
	backend.fail = true
	b.Get(ctx, "k")
	b.Get(ctx, "k")
	if got := b.Status(); got != "active" {
		t.Errorf("Status() = %q, want %q", got, "active")
	}
}

func TestBreakerPassesThroughWhenHealthy(t *testing.T) {
	backend := newFakeStore()
	b := NewBreakerStore(backend, 3, nil)
	ctx := context.Background()

	if err := b.Put(ctx, SymbolKey("NQ1!"), "NQH5", time.Hour); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok, err := b.Get(ctx, SymbolKey("NQ1!"))
	if err != nil || !ok {
		t.Fatalf("Get = (%q, %v, %v), want hit", got, ok, err)
	}
	if got != "NQH5" {
		t.Errorf("Get = %q, want %q", got, "NQH5")
	}
}

func TestBreakerRecordsMetrics(t *testing.T) {
	backend := newFakeStore()
	backend.fail = true
	rec := metrics.NewRegistry()
	b := NewBreakerStore(backend, 2, rec)
	ctx := context.Background()

	b.Get(ctx, "k")
	b.Get(ctx, "k")
	b.Get(ctx, "k") // bypassed

	snap := rec.Snapshot()
	if snap[metrics.CacheError] != 2 {
		t.Errorf("cache_error = %d, want 2", snap[metrics.CacheError])
	}
	if snap[metrics.CacheBreakerActive] != 1 {
		t.Errorf("cache_circuit_breaker_active = %d, want 1", snap[metrics.CacheBreakerActive])
	}
}
