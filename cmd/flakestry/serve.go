package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/flakestry/flakestry/pkg/api"
	"github.com/flakestry/flakestry/pkg/config"
	"github.com/flakestry/flakestry/pkg/httputil"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxRequestBody caps request bodies; only publish accepts one
const maxRequestBody = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	providers, err := observability.InitOTel(ctx, otelConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	a, err := newApp(ctx, cfg, logger, metrics)
	if err != nil {
		_ = providers.Shutdown(ctx, logger)
		return err
	}

	if cfg.Search.EnsureIndex {
		if err := a.index.EnsureIndex(ctx); err != nil {
			logger.WithError(err).Warn("Could not ensure search index, search requests will fail until it is reachable")
		}
	}

	apiServer := api.NewServer(a.aggregator, a.releases, logger)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newHandler(cfg, apiServer, logger, metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, a.healthChecker())
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	scheduler, err := newScheduler(cfg.Maintenance, a.conns, metrics, logger)
	if err != nil {
		a.Close()
		return err
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return a.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return providers.Shutdown(ctx, logger)
	})

	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel(fmt.Errorf("server on %s failed: %w", srv.Addr, err))
			}
		}(srv)
	}

	shutdownErr := shutdown.WaitForShutdown(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return errors.Join(cause, shutdownErr)
	}
	return shutdownErr
}

// newHandler wraps the API in the request middleware stack. Tracing is
// outermost so request logs carry the span.
func newHandler(cfg *config.Config, apiServer *api.Server, logger *observability.Logger, metrics *observability.Metrics) http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	}
	if cfg.Observability.MetricsEnabled {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(metrics, apiServer.RouteName))
	}
	middlewares = append(middlewares,
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(maxRequestBody),
		httputil.TimeoutMiddleware(cfg.Server.RequestTimeout),
	)

	handler := httputil.Chain(middlewares...)(apiServer)
	return otelhttp.NewHandler(handler, "flakestry-api")
}

func otelConfig(cfg *config.Config) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}
}
