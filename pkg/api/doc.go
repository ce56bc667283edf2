// Package api provides the gateway's HTTP surface.
//
// # Routes
//
//	POST /v1/auth/user/verify    {"token"}                    -> {"userId"}
//	POST /v1/auth/client/verify  {"clientId","clientToken"}   -> {"clientId"}
//	GET  /v1/whoami              user token headers           -> {"kind","id"}
//	GET  /v1/whoami/client       client id and key headers    -> {"kind","id"}
//	POST /v1/cache/invalidate    client id and key headers    -> {"invalidated"}
//	GET  /v1/sso/info                                         -> connection diagnostics
//	GET  /health/live, /health/ready, /metrics
//
// A body that cannot be bound yields 400. Every rejected credential yields
// 401 with the body {"error":"Unauthorized"}, whatever the cause.
//
// With a rate limiter configured, every route that consults the verifier is
// limited per client address. The address is the connection's peer unless
// that peer is a trusted proxy, in which case the right-most untrusted
// X-Forwarded-For hop is used. The cache invalidation route is mounted only
// when a cache is configured.
//
// # Usage
//
//	server := api.NewServer(verifier, ssoManager,
//		api.WithLogger(logger),
//		api.WithHealthChecker(health),
//		api.WithMetrics(registry, metrics),
//		api.WithRateLimiter(limiter),
//		api.WithTrustedProxies(proxies),
//	)
//	http.ListenAndServe(":8080", server)
package api
