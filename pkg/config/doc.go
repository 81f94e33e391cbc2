// Package config loads the service configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// FLAKESTRY_CONFIG_FILE, then environment variables; later sources win.
// Secrets are read from the environment only.
//
// Server settings:
//
//	FLAKESTRY_HOST="0.0.0.0"
//	FLAKESTRY_PORT="8000"
//	FLAKESTRY_HEALTH_PORT="9090"
//	FLAKESTRY_REQUEST_TIMEOUT="10s"
//	FLAKESTRY_ALLOWED_ORIGINS="http://localhost:3000,https://flakestry.dev"
//
// Storage settings:
//
//	DATABASE_URL="postgres://localhost/flakestry"   # or FLAKESTRY_POSTGRES_URL
//	FLAKESTRY_POSTGRES_REPLICA_URLS="postgres://replica1/flakestry,postgres://replica2/flakestry"
//	FLAKESTRY_QUERY_TIMEOUT="5s"
//	FLAKESTRY_REDIS_URL="redis://localhost:6379"
//	FLAKESTRY_CACHE_DETAIL_TTL="30m"
//
// Search settings:
//
//	FLAKESTRY_OPENSEARCH_ADDRESSES="http://localhost:9200"
//	FLAKESTRY_OPENSEARCH_INDEX="flakes"
//	FLAKESTRY_OPENSEARCH_TIMEOUT="5s"
//	FLAKESTRY_OPENSEARCH_AWS_REGION="eu-west-1"   # enables SigV4 signing
//
// Observability settings:
//
//	FLAKESTRY_LOG_LEVEL="info"
//	FLAKESTRY_OTEL_ENABLED="true"
//	FLAKESTRY_OTEL_ENDPOINT="otel-collector:4317"
//
// An equivalent YAML file:
//
//	server:
//	  port: "8000"
//	  request_timeout: 10s
//	storage:
//	  postgres_url: postgres://localhost/flakestry
//	  redis_url: redis://localhost:6379
//	search:
//	  addresses: [http://localhost:9200]
//	  ensure_index: true
//	observability:
//	  log_level: debug
package config
