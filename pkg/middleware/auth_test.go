package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerifier() *auth.Verifier {
	st := store.NewMemoryStore()
	st.Insert("sunbird", "user_auth", store.Row{"id": "T1", "user_id": "u1"})
	st.Insert("sunbird", "client_info", store.Row{"id": "c1", "master_key": "k1"})
	return auth.NewVerifier(st)
}

func identityHandler(seen **auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestUserAuth(t *testing.T) {
	m := NewAuthMiddleware(testVerifier(), nil)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		userID  string
	}{
		{"token header", map[string]string{UserTokenHeader: "T1"}, http.StatusOK, "u1"},
		{"bearer header", map[string]string{"Authorization": "Bearer T1"}, http.StatusOK, "u1"},
		{"token header wins", map[string]string{UserTokenHeader: "T1", "Authorization": "Bearer bad"}, http.StatusOK, "u1"},
		{"unknown token", map[string]string{UserTokenHeader: "T9"}, http.StatusUnauthorized, ""},
		{"no credentials", nil, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *auth.Identity
			req := httptest.NewRequest("GET", "/v1/whoami", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			m.UserAuth(identityHandler(&seen)).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.userID == "" {
				assert.Nil(t, seen)
				assert.Contains(t, w.Body.String(), auth.Unauthorized)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, &auth.Identity{Kind: auth.KindUser, ID: tt.userID}, seen)
		})
	}
}

func TestClientAuth(t *testing.T) {
	m := NewAuthMiddleware(testVerifier(), nil)

	tests := []struct {
		name     string
		clientID string
		token    string
		status   int
	}{
		{"valid", "c1", "k1", http.StatusOK},
		{"wrong key", "c1", "k2", http.StatusUnauthorized},
		{"unknown client", "c2", "k1", http.StatusUnauthorized},
		{"missing key", "c1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *auth.Identity
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set(ClientIDHeader, tt.clientID)
			req.Header.Set(ClientTokenHeader, tt.token)
			w := httptest.NewRecorder()

			m.ClientAuth(identityHandler(&seen)).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, &auth.Identity{Kind: auth.KindClient, ID: "c1"}, seen)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestAuth_RejectionsLookAlike(t *testing.T) {
	m := NewAuthMiddleware(testVerifier(), nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	var bodies []string
	for _, token := range []string{"", "T9", "' OR 1=1 --"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(UserTokenHeader, token)
		w := httptest.NewRecorder()
		m.UserAuth(next).ServeHTTP(w, req)
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}

func TestAuth_Audit(t *testing.T) {
	var logs bytes.Buffer
	audit := auth.NewAuditLogger(observability.NewLogger(observability.InfoLevel, &logs))
	m := NewAuthMiddleware(testVerifier(), audit)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(UserTokenHeader, "T1")
	m.UserAuth(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, logs.String(), auth.ActionAuthSuccess)
	assert.NotContains(t, logs.String(), "T1")

	logs.Reset()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(ClientIDHeader, "c1")
	req.Header.Set(ClientTokenHeader, "wrong-secret")
	m.ClientAuth(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, logs.String(), auth.ActionAuthFailure)
	assert.NotContains(t, logs.String(), "wrong-secret")
}

func TestIdentityFromContext(t *testing.T) {
	assert.Nil(t, IdentityFromContext(context.Background()))
	assert.Nil(t, GetIdentity(httptest.NewRequest("GET", "/", nil)))
}
