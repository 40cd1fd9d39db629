package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/medport-labs/medvoice-core/internal/config"
	"go.opentelemetry.io/otel/sdk/resource"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTraceExporterSelection(t *testing.T) {
	ctx := context.Background()

	exporter, kind, err := newTraceExporter(ctx, config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("stdout exporter: %v", err)
	}
	if kind != "stdout" || exporter == nil {
		t.Fatalf("expected stdout exporter, got %q", kind)
	}

	exporter, kind, err = newTraceExporter(ctx, config.TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		OTLPInsecure: true,
	})
	if err != nil {
		t.Fatalf("otlp exporter: %v", err)
	}
	if kind != "otlp" || exporter == nil {
		t.Fatalf("expected otlp exporter, got %q", kind)
	}
	_ = exporter.Shutdown(ctx)
}

func TestMeterProviderExposesHandler(t *testing.T) {
	provider, handler := newMeterProvider(resource.Empty(), discardLogger())
	if provider == nil {
		t.Fatal("no meter provider")
	}
	if handler == nil {
		t.Fatal("expected a scrape handler")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
