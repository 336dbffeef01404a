// Package telemetry provides observability instrumentation for packline.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring publish and migration runs.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// The logger provides component-specific logging with context propagation:
//
//	logger := tel.Logger.NewComponentLogger("publish-coordinator")
//	logger = logger.WithRunID("run-123").WithPackage("Invoices.Processing@1.2.0")
//	logger.Info("Starting publish run")
//	logger.WithError(err).Error("Upload failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and latency:
//
//	ctx, span := tel.Tracer.StartPublishSpan(ctx, runID, tenant)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), stdout (development), none (testing).
//
// # Metrics
//
// Prometheus metrics track run behavior and performance:
//
//	tel.Metrics.RecordRunStarted("publish")
//	tel.Metrics.RecordRunCompleted("publish", "succeeded", duration)
//	tel.Metrics.RecordBuild("succeeded", outcome.CacheHit, outcome.Duration)
//	tel.Metrics.RecordUpload(tenant, "created", duration)
//	tel.Metrics.RecordError("transient", "FEED_UNAVAILABLE")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics).
//
// # Security Considerations
//
//   - Never log sensitive data (credentials, tokens)
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
