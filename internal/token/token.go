// Package token manages broker access-token lifecycle. Tokens are persisted
// in the shared cache so concurrent processes amortize the expensive broker
// authentication call, and are reissued before they can die mid-request.
package token

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tradewire/internal/cache"
)

// Freshness rules.
const (
	// SafeThreshold is the minimum remaining validity. A token closer than
	// this to its expiration is reissued rather than risked.
	SafeThreshold = 15 * time.Minute

	// MaxAge rotates tokens regardless of their stated expiration. Some
	// brokers issue long-lived tokens that should still be rotated.
	MaxAge = 75 * time.Minute
)

// recordID labels the persisted token record.
const recordID = "CURRENT_TOKEN"

// Token is a usable broker credential.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueFunc obtains a brand-new token from the broker. An authentication
// failure must come back as a classified error; Valid propagates it without
// retrying.
type IssueFunc func(ctx context.Context) (Token, error)

// record is the persisted JSON shape of a token.
type record struct {
	ID             string `json:"id"`
	AccessToken    string `json:"access_token"`
	ExpirationTime string `json:"expiration_time"`
	CreatedAt      string `json:"created_at"`
	TTL            int64  `json:"ttl"`
}

// Manager owns the persisted token for one broker: no other component reads
// or writes it. Each Valid call decides whether the stored token is still
// usable and reissues when it is not.
type Manager struct {
	store  cache.Store
	broker string
	log    *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager keyed by broker name. log may be nil.
func NewManager(store cache.Store, broker string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:  store,
		broker: broker,
		log:    log.With("component", "token", "broker", broker),
		now:    time.Now,
	}
}

// Valid returns a token safe to use for the current request. The stored
// token is reused unless it is absent, within SafeThreshold of expiring, or
// older than MaxAge; otherwise issue is called once and the result
// persisted. Issue failures propagate unchanged.
func (m *Manager) Valid(ctx context.Context, issue IssueFunc) (Token, error) {
	stored, ok := m.load(ctx)
	if ok && !m.needsRefresh(stored) {
		return stored, nil
	}

	fresh, err := issue(ctx)
	if err != nil {
		return Token{}, err
	}
	fresh.IssuedAt = m.now()
	m.persist(ctx, fresh)
	return fresh, nil
}

// load reads the persisted record. Read errors and malformed records both
// count as "no record" and force a refresh.
func (m *Manager) load(ctx context.Context) (Token, bool) {
	raw, ok, err := m.store.Get(ctx, cache.TokenKey(m.broker))
	if err != nil {
		m.log.Warn("token read failed, forcing refresh", "error", err)
		return Token{}, false
	}
	if !ok {
		return Token{}, false
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		m.log.Warn("token record malformed, forcing refresh", "error", err)
		return Token{}, false
	}
	expires, expErr := time.Parse(time.RFC3339, rec.ExpirationTime)
	created, creErr := time.Parse(time.RFC3339, rec.CreatedAt)
	if expErr != nil || creErr != nil || rec.AccessToken == "" {
		m.log.Warn("token record incomplete, forcing refresh")
		return Token{}, false
	}
	return Token{Value: rec.AccessToken, IssuedAt: created, ExpiresAt: expires}, true
}

// needsRefresh applies the freshness rules to a stored token.
func (m *Manager) needsRefresh(t Token) bool {
	now := m.now()
	if t.ExpiresAt.Sub(now) <= SafeThreshold {
		return true
	}
	if now.Sub(t.IssuedAt) >= MaxAge {
		return true
	}
	return false
}

// persist writes the refreshed record with TTL equal to its remaining
// validity. A write failure is logged and swallowed: an unpersisted token
// is still valid for the current request, and the next process simply
// reissues.
func (m *Manager) persist(ctx context.Context, t Token) {
	ttl := t.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		m.log.Warn("issued token already expired, not persisting", "expires_at", t.ExpiresAt)
		return
	}

	rec := record{
		ID:             recordID,
		AccessToken:    t.Value,
		ExpirationTime: t.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:      t.IssuedAt.UTC().Format(time.RFC3339),
		TTL:            t.ExpiresAt.Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		m.log.Warn("token record encode failed", "error", err)
		return
	}
	if err := m.store.Put(ctx, cache.TokenKey(m.broker), string(data), ttl); err != nil {
		m.log.Warn("token persist failed, returning unpersisted token", "error", err)
	}
}
