// Package auth acquires and caches Microsoft Entra bearer tokens for the
// Graph API using the OAuth client-credential grant, with either a client
// secret or a client certificate (.p12).
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrAuthenticationFailed wraps every token acquisition failure.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// Token is a bearer token with its expiry.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
}

// Valid reports whether the token is usable at time now, keeping a safety
// margin so a token does not expire mid-request.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(2*time.Minute).Before(t.ExpiresOn)
}

// Provider acquires bearer tokens.
type Provider interface {
	Token(ctx context.Context) (Token, error)
}

// TokenCache caches the token from an underlying Provider until expiry.
// The clock is injected so tests control expiry.
type TokenCache struct {
	provider Provider
	clock    func() time.Time

	mu     sync.Mutex
	cached Token
}

// NewTokenCache wraps provider with an in-memory token cache.
func NewTokenCache(provider Provider, clock func() time.Time) *TokenCache {
	if clock == nil {
		clock = time.Now
	}
	return &TokenCache{provider: provider, clock: clock}
}

// Token returns the cached token, refreshing it through the underlying
// provider when expired.
func (c *TokenCache) Token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached.Valid(c.clock()) {
		return c.cached, nil
	}
	tok, err := c.provider.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	c.cached = tok
	return tok, nil
}
