package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("sale_id", "456"),
		attribute.String("split_type", "tenant"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "sale_id" {
			t.Fatalf("expected sale_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "succeeded", "admitted")
	m.RecordSplit(context.Background(), "stripe", "tenant", 100)
	m.RecordRelease(context.Background(), "tenant", 100)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "splitledger"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "stripe", "succeeded", "admitted")
	m.RecordCompensation(context.Background(), "refunded", "platform")
	m.RecordAlert(context.Background(), "sale_not_found")
}
