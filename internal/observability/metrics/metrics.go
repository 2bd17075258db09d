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

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents   metric.Int64Counter
	keysIssued      metric.Int64Counter
	keyValidations  metric.Int64Counter
	keyConsumes     metric.Int64Counter
	keyRenewals     metric.Int64Counter
	notifications   metric.Int64Counter
	rateLimitDenied metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "enemaccess"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("enemaccess_webhook_events_total")
	if err != nil {
		return nil, err
	}
	keysIssued, err := meter.Int64Counter("enemaccess_access_keys_issued_total")
	if err != nil {
		return nil, err
	}
	keyValidations, err := meter.Int64Counter("enemaccess_key_validations_total")
	if err != nil {
		return nil, err
	}
	keyConsumes, err := meter.Int64Counter("enemaccess_key_consumes_total")
	if err != nil {
		return nil, err
	}
	keyRenewals, err := meter.Int64Counter("enemaccess_key_renewals_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("enemaccess_notifications_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("enemaccess_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:   webhookEvents,
		keysIssued:      keysIssued,
		keyValidations:  keyValidations,
		keyConsumes:     keyConsumes,
		keyRenewals:     keyRenewals,
		notifications:   notifications,
		rateLimitDenied: rateLimitDenied,
	}, nil
}

// RecordWebhookEvent increments webhook event counts by type and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyIssued increments issued key counts.
func (m *Metrics) RecordKeyIssued(ctx context.Context, paymentMethod string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("payment_method", strings.TrimSpace(paymentMethod)))
	m.keysIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyValidation increments validation counts by reported reason.
func (m *Metrics) RecordKeyValidation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.keyValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyConsume increments consume attempts by outcome.
func (m *Metrics) RecordKeyConsume(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.keyConsumes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyRenewal increments renewal counts.
func (m *Metrics) RecordKeyRenewal(ctx context.Context) {
	if m == nil {
		return
	}
	m.keyRenewals.Add(ctx, 1)
}

// RecordNotification increments notification delivery counts by outcome.
func (m *Metrics) RecordNotification(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":       {},
	"event_type":     {},
	"outcome":        {},
	"reason":         {},
	"kind":           {},
	"payment_method": {},
	"status_code":    {},
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
