// Package cvvvault holds card verification codes for the instant between
// shopper entry and order submission. Codes live only in process memory,
// are never serialised with the checkout session, and leave the process
// exclusively in encrypted form.
package cvvvault

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an unsubmitted code is retained.
const DefaultTTL = 30 * time.Minute

type entry struct {
	code      string
	expiresAt time.Time
}

// Vault is an in-memory, TTL-bounded store keyed by checkout session id.
type Vault struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// VaultOption customises Vault construction.
type VaultOption func(*Vault)

// WithTTL overrides the retention window.
func WithTTL(ttl time.Duration) VaultOption {
	return func(v *Vault) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithClock injects the time source (used by tests).
func WithClock(clock func() time.Time) VaultOption {
	return func(v *Vault) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewVault constructs an empty vault.
func NewVault(opts ...VaultOption) *Vault {
	v := &Vault{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Put stores or replaces the code for a session.
func (v *Vault) Put(sessionID, code string) {
	if sessionID == "" || code == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[sessionID] = entry{code: code, expiresAt: v.now().Add(v.ttl)}
}

// Peek returns the code without removing it. Submission failures must keep
// the code so the shopper can retry without re-entering it.
func (v *Vault) Peek(sessionID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[sessionID]
	if !ok {
		return "", false
	}
	if v.now().After(e.expiresAt) {
		delete(v.entries, sessionID)
		return "", false
	}
	return e.code, true
}

// Has reports whether a live code exists for the session.
func (v *Vault) Has(sessionID string) bool {
	_, ok := v.Peek(sessionID)
	return ok
}

// Delete discards the code for a session.
func (v *Vault) Delete(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, sessionID)
}

// CleanupExpired drops entries past their retention window, up to limit,
// returning the number removed.
func (v *Vault) CleanupExpired(limit int) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if limit <= 0 || limit > len(v.entries) {
		limit = len(v.entries)
	}

	now := v.now()
	removed := 0
	for id, e := range v.entries {
		if now.Before(e.expiresAt) {
			continue
		}
		delete(v.entries, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed
}
