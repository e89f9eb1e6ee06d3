// Package auth implements the process-wide token table (spec §5, §6):
// a mapping from signaling token to the set of plugin identifiers that
// token may address, guarded by a dedicated mutex since it is read on
// every signaling request and written rarely (admin add/remove).
package auth

import (
	"crypto/subtle"
	"sync"
)

// Table is a process-wide token -> permitted-plugin-set mapping.
type Table struct {
	mu      sync.RWMutex
	enabled bool
	secret  string
	tokens  map[string]map[string]struct{}
}

// NewTable returns an empty token table. enabled mirrors auth.token_auth;
// when false, every request is treated as authorized.
func NewTable(enabled bool, secret string) *Table {
	return &Table{enabled: enabled, secret: secret, tokens: make(map[string]map[string]struct{})}
}

// Enabled reports whether token enforcement is active.
func (t *Table) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Add registers token as permitted to address the given plugin package
// names. An empty plugins set means "all plugins".
func (t *Table) Add(token string, plugins ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		set[p] = struct{}{}
	}
	t.tokens[token] = set
}

// Remove revokes token entirely.
func (t *Table) Remove(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// IsSignatureValid reports whether token is registered (spec §6's
// auth.is_signature_valid helper exposed to plugins).
func (t *Table) IsSignatureValid(token string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.enabled {
		return true
	}
	_, ok := t.tokens[token]
	return ok
}

// SignatureContains reports whether token is registered and permitted to
// use plugin (spec §6's auth.signature_contains helper).
func (t *Table) SignatureContains(token, plugin string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.enabled {
		return true
	}
	set, ok := t.tokens[token]
	if !ok {
		return false
	}
	if len(set) == 0 {
		return true
	}
	_, ok = set[plugin]
	return ok
}

// ValidateAdminSecret compares the supplied admin api_secret in constant
// time against the configured one, for the general.api_secret gate on
// admin-only signaling requests.
func ValidateAdminSecret(configured, supplied string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}
