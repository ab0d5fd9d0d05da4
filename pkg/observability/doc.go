// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry export for gatekeeper.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("service", "orders").Info("endpoints synced")
//
// RequestLoggingMiddleware stores the logger and a request id in the request
// context; handlers use FromContext(ctx) to log with both attached.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("success")
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// HTTP metrics are labelled with the mux route template, not the raw path.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// When OTel is enabled, Metrics.MirrorToOTel forwards the auth and gateway
// counters to the OTLP meter provider as well.
package observability
