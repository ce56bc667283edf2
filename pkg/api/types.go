package api

import "github.com/platinummonkey/gatekeeper/pkg/sso"

// VerifyUserRequest is the body of POST /v1/auth/user/verify
type VerifyUserRequest struct {
	Token string `json:"token"`
}

// VerifyUserResponse carries the verified user id
type VerifyUserResponse struct {
	UserID string `json:"userId"`
}

// VerifyClientRequest is the body of POST /v1/auth/client/verify
type VerifyClientRequest struct {
	ClientID    string `json:"clientId"`
	ClientToken string `json:"clientToken"`
}

// VerifyClientResponse carries the verified client id
type VerifyClientResponse struct {
	ClientID string `json:"clientId"`
}

// InvalidateCacheResponse lists the tables whose cached lookups were dropped
type InvalidateCacheResponse struct {
	Tables []string `json:"invalidated"`
}

// SSOInfoResponse describes the SSO connection without its secrets
type SSOInfoResponse struct {
	sso.Info
	Connected bool `json:"connected"`
}
