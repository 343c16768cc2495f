package otel_test

import (
	"context"
	"testing"

	"github.com/basket/slipterm/internal/otel"
)

func TestInitNoneYieldsNoopProvider(t *testing.T) {
	p, err := otel.Init(context.Background(), otel.Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected non-nil no-op tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInitUnknownExporterErrors(t *testing.T) {
	if _, err := otel.Init(context.Background(), otel.Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestNewMetricsBuildsAllInstruments(t *testing.T) {
	p, err := otel.Init(context.Background(), otel.Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := otel.NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.FramesDecoded.Add(context.Background(), 1)
	m.RequestsIssued.Add(context.Background(), 1)
}
