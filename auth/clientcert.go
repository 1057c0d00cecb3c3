package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/crypto/pkcs12"
)

type certProvider struct {
	loginURL string
	tenantID string
	clientID string
	key      *rsa.PrivateKey
	cert     *x509.Certificate
	client   *http.Client
	clock    func() time.Time
}

// NewClientCertProvider returns a Provider using the certificate credential
// flow. The certificate and key are loaded from a PKCS#12 (.p12) file, the
// format the admin tooling exports from the keychain.
func NewClientCertProvider(loginURL, tenantID, clientID, p12Path, p12Password string, client *http.Client) (Provider, error) {
	data, err := os.ReadFile(p12Path)
	if err != nil {
		return nil, errors.Wrap(err, "read client certificate")
	}
	key, cert, err := pkcs12.Decode(data, p12Password)
	if err != nil {
		return nil, errors.Wrap(err, "decode client certificate")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("client certificate key is not RSA")
	}
	if loginURL == "" {
		loginURL = "https://login.microsoftonline.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &certProvider{
		loginURL: loginURL,
		tenantID: tenantID,
		clientID: clientID,
		key:      rsaKey,
		cert:     cert,
		client:   client,
		clock:    time.Now,
	}, nil
}

func (p *certProvider) Token(ctx context.Context) (Token, error) {
	assertion, err := p.clientAssertion()
	if err != nil {
		return Token{}, errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	form := url.Values{
		"client_id":             {p.clientID},
		"client_assertion":      {assertion},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"scope":                 {defaultScope},
		"grant_type":            {"client_credentials"},
	}
	return requestToken(ctx, p.client, tokenEndpoint(p.loginURL, p.tenantID), form, p.clock)
}

// clientAssertion builds the signed JWT the token endpoint accepts in place
// of a client secret. The x5t header is the SHA-1 thumbprint of the
// certificate, per the Microsoft identity platform contract.
func (p *certProvider) clientAssertion() (string, error) {
	now := p.clock()
	thumb := sha1.Sum(p.cert.Raw)
	header := map[string]string{
		"alg": "RS256",
		"typ": "JWT",
		"x5t": base64.RawURLEncoding.EncodeToString(thumb[:]),
	}
	claims := map[string]interface{}{
		"aud": tokenEndpoint(p.loginURL, p.tenantID),
		"iss": p.clientID,
		"sub": p.clientID,
		"jti": uuid.NewV4().String(),
		"nbf": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(body)
	digest := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
