package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("expected \"-\", got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc-123")
	if got := TraceID(ctx); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}
}

func TestTraceID_EmptyValueFallsBackToDash(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected \"-\" for an empty trace id, got %q", got)
	}
}

func TestNewTraceID_ProducesDistinctValues(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty trace ids")
	}
	if a == b {
		t.Fatal("expected two calls to produce distinct trace ids")
	}
}
