package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records scheduled-run metrics through an OpenTelemetry meter
// exported on the Prometheus registry.
type Observability struct {
	meterProvider *metric.MeterProvider
	runCounter    otelmetric.Int64Counter
	runDuration   otelmetric.Float64Histogram
	recipients    otelmetric.Int64Counter
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	runCounter, _ := meter.Int64Counter(
		"notification.runs",
		otelmetric.WithDescription("Number of scheduled notification runs"),
	)
	runDuration, _ := meter.Float64Histogram(
		"notification.run.duration",
		otelmetric.WithDescription("Scheduled run duration"),
		otelmetric.WithUnit("ms"),
	)
	recipients, _ := meter.Int64Counter(
		"notification.recipients",
		otelmetric.WithDescription("Recipients processed, by outcome"),
	)

	return &Observability{
		meterProvider: provider,
		runCounter:    runCounter,
		runDuration:   runDuration,
		recipients:    recipients,
	}
}

// RecordRun records a finished scheduled run.
func (o *Observability) RecordRun(ctx context.Context, duration time.Duration, due, processed int) {
	if o == nil || o.runCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.Int("due", due),
		attribute.Int("processed", processed),
	)
	o.runCounter.Add(ctx, 1, attrs)
	o.runDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordRecipients records per-recipient outcomes for one notification.
func (o *Observability) RecordRecipients(ctx context.Context, succeeded, failed int) {
	if o == nil || o.recipients == nil {
		return
	}
	o.recipients.Add(ctx, int64(succeeded), otelmetric.WithAttributes(attribute.String("outcome", "sent")))
	o.recipients.Add(ctx, int64(failed), otelmetric.WithAttributes(attribute.String("outcome", "failed")))
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
