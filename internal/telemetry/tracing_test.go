package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "  ")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("provider = %T, want noop", otel.GetTracerProvider())
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracer_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracer(ctx, "test", "127.0.0.1:4318")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := otel.Tracer("test").Start(ctx, "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the sdk provider")
	}
	span.End()

	// nothing listens on the endpoint; shutdown must still return
	sctx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	_ = shutdown(sctx)
}

func TestExporterOptions(t *testing.T) {
	if got := len(exporterOptions("http://collector:4318")); got != 2 {
		t.Errorf("url options = %d, want 2", got)
	}
	if got := len(exporterOptions("collector:4318")); got != 3 {
		t.Errorf("host options = %d, want 3", got)
	}
}
