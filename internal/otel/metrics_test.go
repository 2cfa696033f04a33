package otel_test

import (
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/basket/go-claw/internal/otel"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	meter := noop.NewMeterProvider().Meter(otel.MeterName)
	m, err := otel.NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.CycleDuration == nil || m.HandlerDuration == nil || m.DelegationDuration == nil {
		t.Fatal("expected histogram instruments to be non-nil")
	}
	if m.HandlerErrors == nil || m.DelegationErrors == nil || m.CurationActionsTotal == nil {
		t.Fatal("expected counter instruments to be non-nil")
	}
	if m.ActiveFailovers == nil {
		t.Fatal("expected up-down counter to be non-nil")
	}
}
