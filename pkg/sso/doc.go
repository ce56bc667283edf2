// Package sso manages the process-wide connection to the external identity
// provider (Keycloak).
//
// # Overview
//
// A Manager owns at most one live Handle. The handle is built lazily by
// GetConnection, or eagerly by Initialize at startup, and is closed exactly
// once by Shutdown.
//
// # Configuration Sources
//
// Resolution is ordered:
//
//  1. Environment: SUNBIRD_SSO_URL, SUNBIRD_SSO_USERNAME, SUNBIRD_SSO_PASSWORD,
//     SUNBIRD_SSO_CLIENT_ID and SUNBIRD_SSO_REALM must all be non-blank.
//     The connection uses the client-credentials grant and the properties
//     cache is never read. SUNBIRD_SSO_CLIENT_SECRET and
//     SUNBIRD_SSO_POOL_SIZE are optional.
//  2. Properties: sso.url, sso.realm, sso.username, sso.password and
//     sso.client.id are required. The default password grant is used.
//     sso.client.secret is attached only if it is set to something other
//     than its own key name.
//
// A partially set environment is treated as absent.
//
// # Usage Example
//
//	manager := sso.NewManager(
//		sso.WithLogger(logger),
//		sso.WithProperties(props),
//	)
//	manager.RegisterShutdownHook(shutdownManager)
//	if _, err := manager.Initialize(ctx); err != nil {
//		logger.WithError(err).Warn("SSO unavailable, will retry on first use")
//	}
//
//	if conn, ok := manager.GetConnection(ctx).(*sso.Connection); ok {
//		client, _ := conn.Client(ctx)
//		resp, err := client.Get(conn.AdminURL("users"))
//	}
//
// # Related Packages
//
//   - pkg/properties: the fallback configuration source
//   - pkg/observability: ShutdownManager runs the registered hook
package sso
