package api

import (
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
)

// verifyUser handles POST /v1/auth/user/verify
func (s *Server) verifyUser(w http.ResponseWriter, r *http.Request) {
	var req VerifyUserRequest
	if !httputil.MapRequestOrError(w, r, &req) {
		return
	}

	userID := s.verifier.VerifyUserToken(r.Context(), req.Token)
	_ = s.audit.LogFromRequest(r, auth.KindUser, userID)
	if userID == auth.Unauthorized {
		httputil.WriteUnauthorized(w, auth.Unauthorized)
		return
	}

	_ = httputil.WriteSuccess(w, VerifyUserResponse{UserID: userID})
}

// verifyClient handles POST /v1/auth/client/verify
func (s *Server) verifyClient(w http.ResponseWriter, r *http.Request) {
	var req VerifyClientRequest
	if !httputil.MapRequestOrError(w, r, &req) {
		return
	}

	clientID := s.verifier.VerifyClientToken(r.Context(), req.ClientID, req.ClientToken)
	_ = s.audit.LogFromRequest(r, auth.KindClient, clientID)
	if clientID == auth.Unauthorized {
		httputil.WriteUnauthorized(w, auth.Unauthorized)
		return
	}

	_ = httputil.WriteSuccess(w, VerifyClientResponse{ClientID: clientID})
}

// whoami handles GET /v1/whoami and GET /v1/whoami/client
func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, auth.Unauthorized)
		return
	}
	_ = httputil.WriteSuccess(w, identity)
}

// invalidateCache handles POST /v1/cache/invalidate
func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	for _, table := range []string{s.tables.UserAuthTable, s.tables.ClientInfoTable} {
		if err := s.cache.Invalidate(r.Context(), s.tables.Keyspace, table); err != nil {
			observability.FromContext(r.Context(), s.logger).WithError(err).
				WithField("table", table).Error("Cache invalidation failed")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "cache invalidation failed")
			return
		}
	}

	identity := middleware.GetIdentity(r)
	observability.FromContext(r.Context(), s.logger).WithField("client_id", identity.ID).
		Info("Credential cache invalidated")
	_ = httputil.WriteSuccess(w, InvalidateCacheResponse{
		Tables: []string{s.tables.UserAuthTable, s.tables.ClientInfoTable},
	})
}

// ssoInfo handles GET /v1/sso/info
func (s *Server) ssoInfo(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		_ = httputil.WriteSuccess(w, SSOInfoResponse{Info: sso.Info{State: sso.StateUninitialized}})
		return
	}
	_ = httputil.WriteSuccess(w, SSOInfoResponse{
		Info:      s.sso.Info(),
		Connected: s.sso.Connected(),
	})
}
