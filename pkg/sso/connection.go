package sso

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrInvalidCertificatePEM is returned when the CA bundle cannot be parsed
var ErrInvalidCertificatePEM = errors.New("invalid certificate PEM")

// KeycloakBuilder builds Keycloak connections. The zero value is usable.
type KeycloakBuilder struct {
	// CACertPEM optionally replaces the system roots
	CACertPEM string

	// Timeout bounds every request made through the connection (default 30s)
	Timeout time.Duration

	// Scopes requested with each token
	Scopes []string
}

// Build implements Builder. It does not contact the server.
func (b *KeycloakBuilder) Build(config ConnectionConfig) (Handle, error) {
	return NewConnection(config, b)
}

// Connection is a Keycloak session: a pooled HTTP client plus a token
// source for the configured grant.
type Connection struct {
	config      ConnectionConfig
	transport   *http.Transport
	httpClient  *http.Client
	baseCtx     context.Context
	tokenSource oauth2.TokenSource

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
	closed   bool
}

// NewConnection validates config and prepares a connection. b may be nil.
func NewConnection(config ConnectionConfig, b *KeycloakBuilder) (*Connection, error) {
	if b == nil {
		b = &KeycloakBuilder{}
	}
	if err := validate(config); err != nil {
		return nil, err
	}

	tr := cleanhttp.DefaultPooledTransport()
	if config.PoolSize > 0 {
		tr.MaxIdleConnsPerHost = config.PoolSize
		tr.MaxConnsPerHost = config.PoolSize
	}
	if b.CACertPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(b.CACertPEM)); !ok {
			return nil, ErrInvalidCertificatePEM
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	timeout := b.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Connection{
		config:     config,
		transport:  tr,
		httpClient: &http.Client{Transport: tr, Timeout: timeout},
	}
	// oauth2 and go-oidc pick the HTTP client up from this context key
	c.baseCtx = context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	c.tokenSource = c.newTokenSource(b.Scopes)

	return c, nil
}

func validate(config ConnectionConfig) error {
	u, err := url.Parse(config.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server url %q", ErrInvalidConfig, config.ServerURL)
	}
	if config.Realm == "" {
		return fmt.Errorf("%w: realm is required", ErrInvalidConfig)
	}
	if config.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}

	switch config.GrantType {
	case GrantClientCredentials:
	case GrantPassword, "":
		if config.Username == "" || config.Password == "" {
			return fmt.Errorf("%w: username and password are required for the password grant", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported grant type %q", ErrInvalidConfig, config.GrantType)
	}
	return nil
}

func (c *Connection) newTokenSource(scopes []string) oauth2.TokenSource {
	tokenURL := c.IssuerURL() + "/protocol/openid-connect/token"

	if c.config.GrantType == GrantClientCredentials {
		cc := &clientcredentials.Config{
			ClientID:     c.config.ClientID,
			ClientSecret: c.config.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.TokenSource(c.baseCtx)
	}

	conf := &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
	return oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      c.baseCtx,
		conf:     conf,
		username: c.config.Username,
		password: c.config.Password,
	})
}

// passwordTokenSource runs the resource-owner password flow on every call.
// It is wrapped in a ReuseTokenSource so a new token is only requested once
// the cached one expires.
type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (p *passwordTokenSource) Token() (*oauth2.Token, error) {
	return p.conf.PasswordCredentialsToken(p.ctx, p.username, p.password)
}

// Config implements Handle
func (c *Connection) Config() ConnectionConfig {
	return c.config
}

// IssuerURL returns the realm issuer, {server}/realms/{realm}
func (c *Connection) IssuerURL() string {
	return strings.TrimRight(c.config.ServerURL, "/") + "/realms/" + url.PathEscape(c.config.Realm)
}

// AdminURL returns an admin REST endpoint for the realm
func (c *Connection) AdminURL(path ...string) string {
	base := strings.TrimRight(c.config.ServerURL, "/") + "/admin/realms/" + url.PathEscape(c.config.Realm)
	for _, p := range path {
		if p = strings.Trim(p, "/"); p != "" {
			base += "/" + p
		}
	}
	return base
}

type tokenResult struct {
	tok *oauth2.Token
	err error
}

// Token returns a valid access token, fetching a new one when needed.
// It returns as soon as ctx is done. A fetch already in flight carries on
// under the connection's own context and client timeout, and its token is
// kept for the next caller.
func (c *Connection) Token(ctx context.Context) (*oauth2.Token, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan tokenResult, 1)
	go func() {
		tok, err := c.tokenSource.Token()
		done <- tokenResult{tok: tok, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", res.err)
		}
		return res.tok, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Client returns an HTTP client that authorizes every request with the
// connection's token
func (c *Connection) Client(ctx context.Context) (*http.Client, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, c.tokenSource), nil
}

// VerifyIDToken verifies an ID token issued by the realm for this client.
// The issuer is discovered on first use.
func (c *Connection) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	verifier, err := c.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(oidc.ClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	return idToken, nil
}

func (c *Connection) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.verifier != nil {
		return c.verifier, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), c.IssuerURL())
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	c.verifier = provider.Verifier(&oidc.Config{ClientID: c.config.ClientID})
	return c.verifier, nil
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return nil
}

// Close implements Handle
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.verifier = nil
	c.transport.CloseIdleConnections()
	return nil
}

// Closed reports whether Close has been called
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
