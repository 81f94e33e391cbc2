// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown and OpenTelemetry tracing.
//
// # Structured Logging
//
// Logger writes JSON lines through log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("component", "search").WithError(err).Warn("index unavailable")
//
// Request handlers take the request-scoped logger, which carries the request
// id and, when a span is recording, the trace and span ids:
//
//	observability.FromContext(r.Context()).Info("request completed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	handler = observability.HTTPMetricsMiddleware(metrics, server.RouteName)(handler)
//	observability.RegisterMetricsEndpoint(mux, registry)
//
// The Observe and Record helpers accept a nil *Metrics, so components can be
// built without a registry in tests.
//
// # Health Checks
//
// PostgreSQL is required; Redis and the search index are optional and only
// degrade the reported status:
//
//	checker := observability.NewHealthChecker(db, redisClient, index, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "flakestry",
//	}, logger)
//	defer providers.Shutdown(ctx, logger)
package observability
