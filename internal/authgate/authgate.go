// Package authgate implements the AuthGate collaborator spec.md §1 treats
// as external: resolving a request-carried token to a username. spec.md
// §9 notes that session cookies / JWT issuance are out of the core's
// scope, so this is the minimal concrete implementation the HTTP layer
// needs to exercise AuthGate's contract end to end — a process-wide,
// mutex-guarded token map, the same shape the session registry itself
// uses for its username -> entry map.
package authgate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// CookieName is the session cookie the HTTP layer sets on login and reads
// on every subsequent request.
const CookieName = "javumbo_session"

// Gate maps opaque bearer tokens to the username that owns them.
type Gate struct {
	mu     sync.Mutex
	tokens map[string]string
}

// New constructs an empty Gate.
func New() *Gate {
	return &Gate{tokens: make(map[string]string)}
}

// Issue mints a fresh token for username, good until Revoke is called.
func (g *Gate) Issue(username string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	g.mu.Lock()
	g.tokens[token] = username
	g.mu.Unlock()

	return token, nil
}

// Resolve returns the username owning token, or ok=false if unknown.
func (g *Gate) Resolve(token string) (username string, ok bool) {
	if token == "" {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	username, ok = g.tokens[token]
	return username, ok
}

// Revoke invalidates token, if present. Idempotent.
func (g *Gate) Revoke(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, token)
}
