package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// TokenMatcher checks a presented X-Api-Token against either a plaintext
// token or a bcrypt hash. With a hash, the digest of the last accepted token
// is remembered so steady traffic does not pay bcrypt on every call.
type TokenMatcher struct {
	plain []byte
	hash  []byte

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	hasHit   bool
}

// NewTokenMatcher prefers bcryptHash when both are set. Both empty disables
// the check.
func NewTokenMatcher(plain, bcryptHash string) *TokenMatcher {
	m := &TokenMatcher{}
	if bcryptHash != "" {
		m.hash = []byte(bcryptHash)
	} else if plain != "" {
		m.plain = []byte(plain)
	}
	return m
}

func (m *TokenMatcher) Enabled() bool {
	return m != nil && (len(m.plain) > 0 || len(m.hash) > 0)
}

// Match reports whether token is the configured secret.
func (m *TokenMatcher) Match(token string) bool {
	if !m.Enabled() {
		return true
	}
	if token == "" {
		return false
	}
	if len(m.plain) > 0 {
		return subtle.ConstantTimeCompare([]byte(token), m.plain) == 1
	}

	digest := sha256.Sum256([]byte(token))
	m.mu.RLock()
	hit := m.hasHit && subtle.ConstantTimeCompare(digest[:], m.accepted[:]) == 1
	m.mu.RUnlock()
	if hit {
		return true
	}
	if bcrypt.CompareHashAndPassword(m.hash, []byte(token)) != nil {
		return false
	}
	m.mu.Lock()
	m.accepted, m.hasHit = digest, true
	m.mu.Unlock()
	return true
}

// HashToken returns the bcrypt hash operators put in server.api_token_hash.
func HashToken(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
