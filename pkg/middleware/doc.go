// Package middleware provides HTTP middleware for credential authentication
// and rate limiting.
//
// # Authentication
//
//	authMW := middleware.NewAuthMiddleware(verifier, auth.NewAuditLogger(logger))
//	router.Handle("/v1/whoami", authMW.UserAuth(whoami))
//
// UserAuth reads X-Authenticated-User-Token, falling back to an
// Authorization bearer token. ClientAuth reads X-Authenticated-Client-Id and
// X-Authenticated-Client-Token. Admitted requests carry an *auth.Identity,
// available through GetIdentity. Rejected requests get a 401 whose body never
// says why.
//
// # Rate Limiting
//
// RateLimit keys requests by client address. RateLimiter is an in-process
// token bucket; DistributedRateLimiter counts fixed windows in Redis so the
// limit holds across instances. Redis errors let requests through.
package middleware
