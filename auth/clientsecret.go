package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultScope = "https://graph.microsoft.com/.default"

// tokenEndpoint returns the v2 token endpoint for a tenant.
func tokenEndpoint(loginURL, tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(loginURL, "/"), tenantID)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type secretProvider struct {
	loginURL string
	tenantID string
	clientID string
	secret   string
	client   *http.Client
	clock    func() time.Time
}

// NewClientSecretProvider returns a Provider using the client-secret
// credential flow. loginURL may be empty to use the public cloud endpoint.
func NewClientSecretProvider(loginURL, tenantID, clientID, secret string, client *http.Client) Provider {
	if loginURL == "" {
		loginURL = "https://login.microsoftonline.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &secretProvider{
		loginURL: loginURL,
		tenantID: tenantID,
		clientID: clientID,
		secret:   secret,
		client:   client,
		clock:    time.Now,
	}
}

func (p *secretProvider) Token(ctx context.Context) (Token, error) {
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.secret},
		"scope":         {defaultScope},
		"grant_type":    {"client_credentials"},
	}
	return requestToken(ctx, p.client, tokenEndpoint(p.loginURL, p.tenantID), form, p.clock)
}

func requestToken(ctx context.Context, client *http.Client, endpoint string, form url.Values, clock func() time.Time) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Token{}, errors.Wrapf(ErrAuthenticationFailed, "token endpoint returned %s", resp.Status)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	if tr.AccessToken == "" {
		return Token{}, errors.Wrap(ErrAuthenticationFailed, "empty access token")
	}
	return Token{
		AccessToken: tr.AccessToken,
		ExpiresOn:   clock().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
