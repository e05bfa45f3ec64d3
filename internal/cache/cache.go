// Package cache provides the durable TTL cache shared by symbol resolution,
// account metadata, and broker token storage, plus a circuit breaker facade
// that keeps a degraded cache backend from stalling trade execution.
package cache

import (
	"context"
	"time"
)

// Key prefixes multiplex several record kinds in the one store.

// SymbolKey is the cache key for a continuous-to-concrete contract mapping.
func SymbolKey(continuous string) string {
	return "symbol_mapping:" + continuous
}

// AccountKey is the cache key for a broker account snapshot.
func AccountKey(username string) string {
	return "ACCOUNT_INFO_" + username
}

// TokenKey is the cache key for a broker's current access token record.
func TokenKey(broker string) string {
	return "access_token:" + broker
}

// Default entry lifetimes.
const (
	SymbolTTL  = 18 * time.Hour
	AccountTTL = 12 * time.Hour
)

// Store is a durable key-value cache with per-entry absolute expiration.
// Expiry is enforced at read time; there is no active eviction. Every call
// is a round trip to the backing store so that concurrent processes share
// one view of the cache.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or
	// expired; err is non-nil only when the cache itself failed, so callers
	// can tell a miss from an outage.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put stores value under key, expiring ttl from now. The expiration is
	// recorded as an absolute timestamp. A non-positive ttl is rejected.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
