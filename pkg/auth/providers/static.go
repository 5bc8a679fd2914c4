package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

var _ AuthProvider = &StaticAuthProvider{}

// StaticAuthProvider accepts a fixed set of tokens.
// It stands in for Firebase during local development and tests.
type StaticAuthProvider struct {
	lock   sync.RWMutex
	tokens map[string]*TokenClaims
}

func NewStaticAuthProvider() *StaticAuthProvider {
	return &StaticAuthProvider{
		tokens: make(map[string]*TokenClaims),
	}
}

// Add registers token as belonging to claims.
func (p *StaticAuthProvider) Add(token string, claims TokenClaims) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.tokens[token] = &claims
}

func (p *StaticAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	claims, ok := p.tokens[idToken]
	if !ok {
		return nil, fmt.Errorf("error verifying token: unknown token")
	}
	copy := *claims
	return &copy, nil
}

// ParseStaticTokens builds a StaticAuthProvider from token=uid[:name] entries.
func ParseStaticTokens(entries []string) (*StaticAuthProvider, error) {
	p := NewStaticAuthProvider()
	for _, entry := range entries {
		token, user, ok := strings.Cut(entry, "=")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid static token %q, expected token=uid[:name]", entry)
		}
		uid, name, _ := strings.Cut(user, ":")
		p.Add(token, TokenClaims{UID: uid, Name: name})
	}
	return p, nil
}
