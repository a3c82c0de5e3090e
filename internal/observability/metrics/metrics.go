package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes settlement instruments.
type Metrics struct {
	webhookEvents  metric.Int64Counter
	splitRows      metric.Int64Counter
	settledCents   metric.Int64Counter
	compensations  metric.Int64Counter
	releasedCents  metric.Int64Counter
	operatorAlerts metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the settlement metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "splitledger"
	}
	meter := provider.Meter(name)

	var m Metrics
	counters := []struct {
		target *metric.Int64Counter
		name   string
		unit   string
	}{
		{&m.webhookEvents, "splitledger_webhook_events_total", "{event}"},
		{&m.splitRows, "splitledger_split_rows_total", "{row}"},
		{&m.settledCents, "splitledger_settled_cents_total", "{cent}"},
		{&m.compensations, "splitledger_compensations_total", "{row}"},
		{&m.releasedCents, "splitledger_released_cents_total", "{cent}"},
		{&m.operatorAlerts, "splitledger_operator_alerts_total", "{alert}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return &m, nil
}

// RecordWebhookEvent counts gateway events by normalized kind and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventKind, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_kind", strings.TrimSpace(eventKind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSplit counts split rows written and the gross they distribute.
func (m *Metrics) RecordSplit(ctx context.Context, provider, splitType string, grossCents int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("split_type", strings.TrimSpace(splitType)),
	)...)
	m.splitRows.Add(ctx, 1, attrs)
	if grossCents > 0 {
		m.settledCents.Add(ctx, grossCents, attrs)
	}
}

func (m *Metrics) RecordCompensation(ctx context.Context, eventKind, splitType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_kind", strings.TrimSpace(eventKind)),
		attribute.String("split_type", strings.TrimSpace(splitType)),
	)
	m.compensations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRelease(ctx context.Context, accountType string, cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("account_type", strings.TrimSpace(accountType)))
	m.releasedCents.Add(ctx, cents, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAlert(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.operatorAlerts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Sale, org and transaction ids are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":     {},
	"event_kind":   {},
	"outcome":      {},
	"split_type":   {},
	"account_type": {},
	"reason":       {},
	"endpoint":     {},
	"status_code":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
