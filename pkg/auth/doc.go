// Package auth verifies user session tokens and client credentials against
// the persistent store.
//
// # Overview
//
// Two trust domains are supported:
//
//	v := auth.NewVerifier(st, auth.WithLogger(logger), auth.WithMetrics(metrics))
//
//	userID := v.VerifyUserToken(ctx, token)                // user_auth keyed by token
//	clientID := v.VerifyClientToken(ctx, clientID, secret) // client_info by (id, master_key)
//
// Both return the Unauthorized sentinel for every failure: empty input, no
// matching row, a failing store, or a malformed row. The reason is logged
// and counted in gatekeeper_verifications_total but never returned.
//
// LookupUser and LookupClient expose the underlying error for callers that
// need it, such as tests and diagnostics.
//
// # Audit
//
// AuditLogger emits one structured entry per HTTP verification with the
// caller's address and the verified id. Tokens are never logged.
//
// # Related Packages
//
//   - pkg/store: the lookup interface and its implementations
//   - pkg/middleware: HTTP middleware built on Verifier
package auth
