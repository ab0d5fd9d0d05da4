// Package config loads gatekeeper configuration.
//
// # Overview
//
// Settings are layered: built-in defaults, then an optional YAML file named by
// GATEKEEPER_CONFIG_FILE, then GATEKEEPER_* environment variables. The result
// is validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_HEALTH_PORT="9090"
//	GATEKEEPER_REQUEST_TIMEOUT="10s"
//
// Storage settings:
//
//	GATEKEEPER_DB_DRIVER="postgres"  # postgres, sqlite
//	GATEKEEPER_DATABASE_URL="postgres://localhost/gatekeeper"
//	GATEKEEPER_AUTO_MIGRATE="true"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379/0"
//
// Token settings:
//
//	GATEKEEPER_SIGNING_SCHEME="hmac"  # hmac, rsa
//	GATEKEEPER_JWT_SECRET="..."       # at least 32 bytes
//	GATEKEEPER_JWT_PRIVATE_KEY="/etc/gatekeeper/signing.pem"
//	GATEKEEPER_JWT_KEY_ID="2024-01"
//	GATEKEEPER_JWT_KEYRING_DIR="/etc/gatekeeper/keys"
//	GATEKEEPER_ACCESS_TTL="1h"
//	GATEKEEPER_REFRESH_TTL="336h"
//
// RBAC and rate limiting:
//
//	GATEKEEPER_RBAC_CACHE_TTL="30s"
//	GATEKEEPER_DEFAULT_ROLE_POLICY="suffix"  # none, suffix, static
//	GATEKEEPER_DEFAULT_ROLES="billing=billing_admin,orders=orders_admin"
//	GATEKEEPER_RATELIMIT_IP_LIMIT="100"
//	GATEKEEPER_RATELIMIT_IP_WINDOW="1m"
//	GATEKEEPER_RATELIMIT_FAIL_OPEN="false"
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_METRICS_ENABLED="true"
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//
// The YAML file uses the same sections with snake_case keys:
//
//	server:
//	  port: "8080"
//	auth:
//	  signing_scheme: rsa
//	  private_key_path: /etc/gatekeeper/signing.pem
//	  key_id: "2024-01"
//	ratelimit:
//	  ip_limit: 200
//	  ip_window: 30s
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
