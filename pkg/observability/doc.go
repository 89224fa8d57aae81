// Package observability provides structured logging, Prometheus metrics, health
// probes, graceful shutdown and OpenTelemetry tracing.
//
// # Structured Logging
//
// Logs are JSON lines written through logrus:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
//	logger.WithField("user_id", id).Info("login succeeded")
//
// LoggingMiddleware stores a request-scoped logger in the context; handlers
// pick it up with FromContext(r.Context()).
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Access-control counters (hrm_authn_failures_total, hrm_authz_decisions_total,
// hrm_login_attempts_total, hrm_rate_limited_total) are incremented by the
// gates and the login flow.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version).
//		WithBacklog("audit_queue", auditPool)
//	observability.RegisterHealthRoutes(healthRouter, checker)
//
// The database is required. Redis and a queue above 90% full only degrade
// the status.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "hrm-api",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: wires the middleware chain
package observability
