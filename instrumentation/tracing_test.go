package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpan(t *testing.T, fn func(ctx context.Context, inst *Instrumentation)) sdktrace.ReadOnlySpan {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inst, err := New(Config{Enabled: true, TracerProvider: tp, PrometheusRegisterer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	fn(context.Background(), inst)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRecordError(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("server").Start(ctx, "op")
		RecordError(s, errors.New("boom"))
		RecordError(s, nil)
		s.End()
	})

	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	if len(span.Events()) != 1 {
		t.Errorf("events = %d, want 1", len(span.Events()))
	}
}

func TestSetSpanSuccess(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("server").Start(ctx, "op")
		SetSpanSuccess(s)
		s.End()
	})
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
}

func TestAddGrantAttributes(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("server").Start(ctx, "grant")
		AddGrantAttributes(s, "password", "c1", "", "read")
		AddTokenFamilyAttributes(s, "fam-1", 2)
		s.End()
	})

	attrs := attrMap(span)
	if attrs[AttrGrantType].AsString() != "password" {
		t.Errorf("grant type = %v", attrs[AttrGrantType])
	}
	if attrs[AttrClientID].AsString() != "c1" {
		t.Errorf("client id = %v", attrs[AttrClientID])
	}
	if _, ok := attrs[AttrOwnerID]; ok {
		t.Error("empty owner id should be skipped")
	}
	if attrs[AttrTokenGeneration].AsInt64() != 2 {
		t.Errorf("generation = %v", attrs[AttrTokenGeneration])
	}
}

func TestAddStorageAndHTTPAttributes(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("http").Start(ctx, "req")
		AddStorageAttributes(s, "valkey", "rotate_refresh_token")
		AddHTTPAttributes(s, "POST", "/token", 200)
		AddClientIPAttribute(s, "")
		s.End()
	})

	attrs := attrMap(span)
	if attrs[AttrStorageBackend].AsString() != "valkey" {
		t.Errorf("backend = %v", attrs[AttrStorageBackend])
	}
	if attrs[AttrHTTPStatusCode].AsInt64() != 200 {
		t.Errorf("status code = %v", attrs[AttrHTTPStatusCode])
	}
	if _, ok := attrs[AttrClientIP]; ok {
		t.Error("empty client ip should be skipped")
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddGrantAttributes(nil, "a", "b", "c", "d")
	AddTokenFamilyAttributes(nil, "f", 1)
	AddStorageAttributes(nil, "memory", "op")
	AddHTTPAttributes(nil, "GET", "/", 200)
	AddClientIPAttribute(nil, "1.2.3.4")
}
