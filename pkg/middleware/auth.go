package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Credential headers
const (
	UserTokenHeader   = "X-Authenticated-User-Token"
	ClientIDHeader    = "X-Authenticated-Client-Id"
	ClientTokenHeader = "X-Authenticated-Client-Token"
)

// TokenVerifier resolves credentials to an id or auth.Unauthorized
type TokenVerifier interface {
	VerifyUserToken(ctx context.Context, token string) string
	VerifyClientToken(ctx context.Context, clientID, clientToken string) string
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier TokenVerifier
	audit    *auth.AuditLogger
}

// NewAuthMiddleware creates a new authentication middleware. A nil audit
// logger disables auditing.
func NewAuthMiddleware(verifier TokenVerifier, audit *auth.AuditLogger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		audit:    audit,
	}
}

// UserAuth admits requests carrying a valid user token in
// X-Authenticated-User-Token or an Authorization bearer header
func (m *AuthMiddleware) UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(UserTokenHeader)
		if token == "" {
			token = httputil.BearerToken(r)
		}

		userID := m.verifier.VerifyUserToken(r.Context(), token)
		m.admit(w, r, next, auth.KindUser, userID)
	})
}

// ClientAuth admits requests carrying a valid client id and master key
func (m *AuthMiddleware) ClientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := m.verifier.VerifyClientToken(r.Context(),
			r.Header.Get(ClientIDHeader), r.Header.Get(ClientTokenHeader))
		m.admit(w, r, next, auth.KindClient, clientID)
	})
}

func (m *AuthMiddleware) admit(w http.ResponseWriter, r *http.Request, next http.Handler, kind auth.Kind, id string) {
	if m.audit != nil {
		_ = m.audit.LogFromRequest(r, kind, id)
	}
	if id == "" || id == auth.Unauthorized {
		httputil.WriteUnauthorized(w, auth.Unauthorized)
		return
	}

	ctx := contextkeys.WithIdentity(r.Context(), &auth.Identity{Kind: kind, ID: id})
	next.ServeHTTP(w, r.WithContext(ctx))
}

// GetIdentity returns the identity admitted by UserAuth or ClientAuth, or nil
func GetIdentity(r *http.Request) *auth.Identity {
	return IdentityFromContext(r.Context())
}

// IdentityFromContext returns the identity stored in ctx, or nil
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
