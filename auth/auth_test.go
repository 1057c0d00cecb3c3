package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	calls int
	tok   Token
	err   error
}

func (f *fakeProvider) Token(ctx context.Context) (Token, error) {
	f.calls++
	return f.tok, f.err
}

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var validTests = []struct {
		name string
		tok  Token
		want bool
	}{
		{"fresh token", Token{AccessToken: "x", ExpiresOn: now.Add(time.Hour)}, true},
		{"expired token", Token{AccessToken: "x", ExpiresOn: now.Add(-time.Hour)}, false},
		{"inside safety margin", Token{AccessToken: "x", ExpiresOn: now.Add(time.Minute)}, false},
		{"empty token", Token{ExpiresOn: now.Add(time.Hour)}, false},
	}
	for _, tt := range validTests {
		if got := tt.tok.Valid(now); got != tt.want {
			t.Fatalf("%s: expected %v got %v", tt.name, tt.want, got)
		}
	}
}

func TestTokenCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	provider := &fakeProvider{tok: Token{AccessToken: "tok-1", ExpiresOn: now.Add(time.Hour)}}
	cache := NewTokenCache(provider, clock)

	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "tok-1" {
		t.Fatal("expected tok-1, got", tok.AccessToken)
	}

	// second call inside the validity window hits the cache
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 1 {
		t.Fatal("expected one provider call, got", provider.calls)
	}

	// advance past expiry, the provider is asked again
	now = now.Add(2 * time.Hour)
	provider.tok = Token{AccessToken: "tok-2", ExpiresOn: now.Add(time.Hour)}
	tok, err = cache.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "tok-2" {
		t.Fatal("expected tok-2, got", tok.AccessToken)
	}
	if provider.calls != 2 {
		t.Fatal("expected two provider calls, got", provider.calls)
	}
}

func TestClientSecretProvider(t *testing.T) {
	var gotForm map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenant-1/oauth2/v2.0/token" {
			t.Fatal("unexpected path", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "secret-token", "expires_in": 3599}`))
	}))
	defer server.Close()

	p := NewClientSecretProvider(server.URL, "tenant-1", "client-1", "hunter2", server.Client())
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "secret-token" {
		t.Fatal("expected secret-token, got", tok.AccessToken)
	}
	if !tok.Valid(time.Now()) {
		t.Fatal("expected a valid token")
	}
	if got := gotForm["grant_type"]; len(got) != 1 || got[0] != "client_credentials" {
		t.Fatal("expected client_credentials grant, got", got)
	}
	if got := gotForm["scope"]; len(got) != 1 || got[0] != defaultScope {
		t.Fatal("expected default scope, got", got)
	}
}

func TestClientSecretProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewClientSecretProvider(server.URL, "tenant-1", "client-1", "wrong", server.Client())
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error for rejected credentials, got none")
	}
}
