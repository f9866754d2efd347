package inference

import (
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Rotator is implemented by credential sources that can switch to another
// credential after a failure.
type Rotator interface {
	// Rotate advances to the next credential and reports whether a
	// different one is now active.
	Rotate() bool
}

// KeyRing is a round-robin set of API keys. It implements
// oauth2.TokenSource so requests carry the current key as a bearer token.
// It is safe for concurrent use.
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	cur  int
}

// NewKeyRing builds a key ring from keys. Each argument may itself be a
// comma-separated list; blanks and duplicates are dropped.
func NewKeyRing(keys ...string) (*KeyRing, error) {
	seen := make(map[string]bool)
	var ring []string
	for _, k := range keys {
		for _, part := range strings.Split(k, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			ring = append(ring, part)
		}
	}
	if len(ring) == 0 {
		return nil, ErrNoAPIKey
	}
	return &KeyRing{keys: ring}, nil
}

// Token returns the current key as a bearer token.
func (r *KeyRing) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &oauth2.Token{AccessToken: r.keys[r.cur], TokenType: "Bearer"}, nil
}

// Rotate advances to the next key.
func (r *KeyRing) Rotate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) < 2 {
		return false
	}
	r.cur = (r.cur + 1) % len(r.keys)
	return true
}

// Len returns the number of keys.
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// Index returns the position of the active key.
func (r *KeyRing) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

var (
	_ oauth2.TokenSource = (*KeyRing)(nil)
	_ Rotator            = (*KeyRing)(nil)
)
