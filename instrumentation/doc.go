// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When disabled, no-op providers are used and recording is free. When
// enabled without explicit providers, an SDK meter provider backed by the
// OpenTelemetry Prometheus exporter is created, so metrics can be scraped
// through promhttp:
//
//	reg := prometheus.NewRegistry()
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:          "authz-server",
//		Enabled:              true,
//		PrometheusRegisterer: reg,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Metrics
//
// HTTP layer:
//   - authz.http.requests.total: requests by endpoint, method and status
//   - authz.http.request.duration: request duration in milliseconds
//
// Grants:
//   - authz.tokens.issued: successful grants by grant type
//   - authz.grant.failures: failed grants by grant type and error code
//   - authz.code.redeemed: authorization code redemptions by result
//   - authz.refresh.rotated: refresh_token grants by rotation mode
//   - authz.introspection.total: introspection lookups by active state
//   - authz.tokens.revoked: explicit and cascading revocations
//
// Security:
//   - authz.code.replay_detected
//   - authz.refresh.reuse_detected
//   - authz.client_auth.failures: by reason
//   - authz.access.denied: endpoint policy denials by endpoint
//   - authz.rate_limit.exceeded: by endpoint
//   - authz.audit.events.total: by event type
//
// Storage:
//   - authz.storage.operation.total and authz.storage.operation.duration
//   - authz.storage.tokens, authz.storage.clients, authz.storage.grants (gauges)
//   - authz.sweeper.deleted: expired records removed by the sweeper
//
// # Tracing
//
// Spans are created per layer through Tracer("http"), Tracer("server") and
// Tracer("storage"). Attribute keys are defined as Attr* constants. They
// carry identifiers and outcomes only, never token, code or secret values.
package instrumentation
