package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.SpawnDuration == nil {
		t.Error("SpawnDuration is nil")
	}
	if m.CompleteDuration == nil {
		t.Error("CompleteDuration is nil")
	}
	if m.SpawnsTotal == nil {
		t.Error("SpawnsTotal is nil")
	}
	if m.CompletionsTotal == nil {
		t.Error("CompletionsTotal is nil")
	}
	if m.CompletionFailures == nil {
		t.Error("CompletionFailures is nil")
	}
	if m.ReconcileSwept == nil {
		t.Error("ReconcileSwept is nil")
	}
	if m.LockTimeouts == nil {
		t.Error("LockTimeouts is nil")
	}
	if m.ActiveAgents == nil {
		t.Error("ActiveAgents is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter; metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
