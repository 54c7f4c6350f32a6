package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty.
	DefaultServiceName = "authz-server"

	// DefaultServiceVersion is used when Config.ServiceVersion is empty.
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/authz-server/"
)

// Config holds instrumentation configuration
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false no-op
	// providers are used.
	Enabled bool

	// LogClientIPs controls whether caller IPs are attached to spans.
	// Default: false
	//
	// Privacy Note: client IP addresses may be personal data under GDPR and
	// similar regulations. The audit log records them regardless; this flag
	// only governs the observability pipeline, which is often retained and
	// shared more widely.
	LogClientIPs bool

	// Resource overrides the default service resource.
	Resource *resource.Resource

	// MeterProvider and TracerProvider override the providers built by New.
	// Their lifecycle stays with the caller.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// PrometheusRegisterer receives the exporter's collector when New builds
	// its own meter provider. Defaults to prometheus.DefaultRegisterer.
	PrometheusRegisterer prometheus.Registerer
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
//
// With Enabled set and no MeterProvider supplied, metrics are exported in
// Prometheus format through PrometheusRegisterer; serve them with
// promhttp.Handler(). Without a TracerProvider an SDK provider with no
// exporter is created, so span context still reaches logs and downstream
// calls. Providers created here are owned by the instance and released by
// Shutdown.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Noop returns a disabled instance. It never fails.
func Noop() *Instrumentation {
	inst, err := New(Config{Enabled: false, Resource: resource.Empty()})
	if err != nil {
		panic(fmt.Sprintf("noop instrumentation: %v", err))
	}
	return inst
}

func (i *Instrumentation) initializeProviders() error {
	if i.config.MeterProvider != nil {
		i.meterProvider = i.config.MeterProvider
	} else {
		reg := i.config.PrometheusRegisterer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(i.resource),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	}

	if i.config.TracerProvider != nil {
		i.tracerProvider = i.config.TracerProvider
	} else {
		// No exporter is attached; spans still propagate trace context
		// into logs and downstream calls.
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	}

	return nil
}

// Shutdown flushes and stops providers created by New. Safe to call more
// than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a meter named "github.com/giantswarm/authz-server/{scope}".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer named "github.com/giantswarm/authz-server/{scope}".
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether caller IPs may be attached to spans.
// This respects the LogClientIPs configuration for privacy compliance.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback reports the current size of a storage component.
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks wires storage gauges to a backend. Nil
// callbacks are skipped. Callbacks run on every collection, so they must be
// cheap and must not block on the store's write lock for long.
func (i *Instrumentation) RegisterStorageSizeCallbacks(tokens, clients, grants StorageSizeCallback) error {
	m := i.metrics
	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			if tokens != nil {
				o.ObserveInt64(m.StorageTokens, tokens())
			}
			if clients != nil {
				o.ObserveInt64(m.StorageClients, clients())
			}
			if grants != nil {
				o.ObserveInt64(m.StorageGrants, grants())
			}
			return nil
		},
		m.StorageTokens,
		m.StorageClients,
		m.StorageGrants,
	)
	if err != nil {
		return fmt.Errorf("failed to register storage callbacks: %w", err)
	}
	return nil
}
