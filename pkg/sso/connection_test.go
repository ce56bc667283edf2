package sso

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeycloak serves the realm token endpoint and OIDC discovery
type fakeKeycloak struct {
	*httptest.Server
	tokenRequests atomic.Int32
	lastForm      atomic.Value // url.Values
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	kc := &fakeKeycloak{}

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/sunbird/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		kc.tokenRequests.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kc.lastForm.Store(r.PostForm)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-" + r.PostForm.Get("grant_type"),
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	})
	mux.HandleFunc("/realms/sunbird/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		issuer := kc.URL + "/realms/sunbird"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/protocol/openid-connect/auth",
			"token_endpoint":         issuer + "/protocol/openid-connect/token",
			"jwks_uri":               issuer + "/protocol/openid-connect/certs",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/admin/realms/sunbird/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	})

	kc.Server = httptest.NewServer(mux)
	t.Cleanup(kc.Close)
	return kc
}

func (kc *fakeKeycloak) form(key string) string {
	form, _ := kc.lastForm.Load().(url.Values)
	return form.Get(key)
}

func TestNewConnection_Validation(t *testing.T) {
	valid := ConnectionConfig{
		ServerURL: "https://sso.example.com/auth",
		Realm:     "sunbird",
		Username:  "u",
		Password:  "p",
		ClientID:  "c",
		GrantType: GrantPassword,
	}

	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
	}{
		{"bad url", func(c *ConnectionConfig) { c.ServerURL = "not a url" }},
		{"ftp scheme", func(c *ConnectionConfig) { c.ServerURL = "ftp://sso.example.com" }},
		{"missing realm", func(c *ConnectionConfig) { c.Realm = "" }},
		{"missing client", func(c *ConnectionConfig) { c.ClientID = "" }},
		{"password grant without password", func(c *ConnectionConfig) { c.Password = "" }},
		{"unknown grant", func(c *ConnectionConfig) { c.GrantType = "implicit" }},
	}

	_, err := NewConnection(valid, nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			_, err := NewConnection(config, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("client credentials needs no user", func(t *testing.T) {
		config := valid
		config.GrantType = GrantClientCredentials
		config.Username, config.Password = "", ""
		_, err := NewConnection(config, nil)
		assert.NoError(t, err)
	})

	t.Run("bad CA bundle", func(t *testing.T) {
		_, err := NewConnection(valid, &KeycloakBuilder{CACertPEM: "garbage"})
		assert.ErrorIs(t, err, ErrInvalidCertificatePEM)
	})
}

func TestConnection_URLs(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: "https://sso.example.com/auth/",
		Realm:     "sunbird",
		ClientID:  "c",
		GrantType: GrantClientCredentials,
		PoolSize:  7,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example.com/auth/realms/sunbird", conn.IssuerURL())
	assert.Equal(t, "https://sso.example.com/auth/admin/realms/sunbird", conn.AdminURL())
	assert.Equal(t, "https://sso.example.com/auth/admin/realms/sunbird/users/42", conn.AdminURL("/users/", "42"))
	assert.Equal(t, 7, conn.transport.MaxConnsPerHost)
	assert.Equal(t, 7, conn.Config().PoolSize)
}

func TestConnection_BuildDoesNotContactServer(t *testing.T) {
	kc := newFakeKeycloak(t)
	builder := &KeycloakBuilder{}

	_, err := builder.Build(ConnectionConfig{
		ServerURL: kc.URL,
		Realm:     "sunbird",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), kc.tokenRequests.Load())
}

func TestConnection_ClientCredentialsToken(t *testing.T) {
	kc := newFakeKeycloak(t)
	conn, err := NewConnection(ConnectionConfig{
		ServerURL:    kc.URL,
		Realm:        "sunbird",
		ClientID:     "gateway",
		ClientSecret: "s3cret",
		GrantType:    GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	tok, err := conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials", tok.AccessToken)
	assert.Equal(t, "gateway", kc.form("client_id"))
	assert.Equal(t, "s3cret", kc.form("client_secret"))

	// Cached until expiry
	_, err = conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), kc.tokenRequests.Load())
}

func TestConnection_PasswordToken(t *testing.T) {
	kc := newFakeKeycloak(t)
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: kc.URL,
		Realm:     "sunbird",
		Username:  "admin",
		Password:  "pw",
		ClientID:  "admin-cli",
		GrantType: GrantPassword,
	}, nil)
	require.NoError(t, err)

	tok, err := conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-password", tok.AccessToken)
	assert.Equal(t, "admin", kc.form("username"))
	assert.Equal(t, "pw", kc.form("password"))
	assert.Equal(t, "admin-cli", kc.form("client_id"))

	_, err = conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), kc.tokenRequests.Load())
}

func TestConnection_TokenHonoursContext(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "slow",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
	t.Cleanup(srv.Close)

	conn, err := NewConnection(ConnectionConfig{
		ServerURL: srv.URL,
		Realm:     "sunbird",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = conn.Token(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned fetch completes and its token is reused
	close(release)
	tok, err := conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow", tok.AccessToken)
	assert.Equal(t, int32(1), requests.Load())
}

func TestConnection_AuthorizedClient(t *testing.T) {
	kc := newFakeKeycloak(t)
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: kc.URL,
		Realm:     "sunbird",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	client, err := conn.Client(context.Background())
	require.NoError(t, err)

	resp, err := client.Get(conn.AdminURL("users"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-client_credentials", string(body))
}

func TestConnection_VerifyIDToken(t *testing.T) {
	kc := newFakeKeycloak(t)
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: kc.URL,
		Realm:     "sunbird",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	_, err = conn.VerifyIDToken(context.Background(), "not-a-jwt")
	assert.ErrorContains(t, err, "failed to verify ID token")
	assert.NotNil(t, conn.verifier, "discovery result is cached")
}

func TestConnection_VerifyIDTokenDiscoveryFailure(t *testing.T) {
	kc := newFakeKeycloak(t)
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: kc.URL,
		Realm:     "unknown",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	_, err = conn.VerifyIDToken(context.Background(), "x")
	assert.ErrorContains(t, err, "failed to discover OIDC provider")
	assert.Nil(t, conn.verifier)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		ServerURL: "http://localhost:1",
		Realm:     "sunbird",
		ClientID:  "gateway",
		GrantType: GrantClientCredentials,
	}, nil)
	require.NoError(t, err)

	assert.False(t, conn.Closed())
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.True(t, conn.Closed())

	_, err = conn.Token(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = conn.Client(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = conn.VerifyIDToken(context.Background(), "x")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestManager_WithKeycloakBuilder(t *testing.T) {
	kc := newFakeKeycloak(t)
	env := map[string]string{
		EnvURL:      kc.URL,
		EnvUsername: "svc",
		EnvPassword: "pw",
		EnvClientID: "gateway",
		EnvRealm:    "sunbird",
	}
	m := NewManager(WithEnv(envMap(env)))

	conn, ok := m.GetConnection(context.Background()).(*Connection)
	require.True(t, ok)

	tok, err := conn.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials", tok.AccessToken)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, conn.Closed())
}
