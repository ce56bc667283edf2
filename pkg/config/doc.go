// Package config loads gateway configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_SHUTDOWN_TIMEOUT="30s"
//
// Store settings:
//
//	GATEKEEPER_STORE_DRIVER="postgres"  # postgres, sqlite3, memory
//	GATEKEEPER_STORE_DSN="postgres://localhost/sunbird?sslmode=disable"
//	GATEKEEPER_STORE_REPLICA_DSNS="postgres://replica-1/sunbird,postgres://replica-2/sunbird"
//	GATEKEEPER_KEYSPACE="sunbird"
//
// Cache settings:
//
//	GATEKEEPER_CACHE_ENABLED="true"
//	GATEKEEPER_CACHE_TTL="30s"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379"
//
// SSO settings. The connection itself comes from the SUNBIRD_SSO_*
// variables or the properties file:
//
//	GATEKEEPER_PROPERTIES_FILE="/etc/gatekeeper/sso.yaml"
//	GATEKEEPER_SSO_CA_CERT_FILE="/etc/ssl/keycloak.pem"
//
// Rate limiting:
//
//	GATEKEEPER_RATE_LIMIT_PER_MINUTE="600"  # 0 disables
//	GATEKEEPER_RATE_LIMIT_DISTRIBUTED="true"
//	GATEKEEPER_TRUSTED_PROXIES="10.0.0.0/8,192.0.2.1"  # load balancers that set X-Forwarded-For
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_METRICS_ENABLED="true"
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
