package observability

import (
	"context"
	"testing"
	"time"

	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{Endpoint: "unused:4317"})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}

func TestInitTracer_LazyConnection(t *testing.T) {
	// The gRPC connection is lazy, so an unreachable collector is not an init error.
	shutdown, err := InitTracer(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "botmaster",
		Endpoint:    "localhost:4317",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Logf("InitTracer returned error (may be expected in test environment): %v", err)
		return
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), TracingConfig{ServiceName: "botmaster", ServiceVersion: "1.2.0"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}

	want := map[string]string{
		string(semconv.ServiceNameKey):    "botmaster",
		string(semconv.ServiceVersionKey): "1.2.0",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("resource %s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got[string(semconv.HostNameKey)]; !ok {
		t.Error("resource is missing the host name")
	}
}
