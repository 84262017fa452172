// Package telemetry exposes the dashboard's OpenTelemetry counters and the
// optional OTLP/HTTP metric exporter.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bot-dashboard-go/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	serviceName = "bot-dashboard"
	meterName   = "bot-dashboard-go"
)

// Provider owns the SDK meter provider when export is enabled.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
}

// NewProvider installs a global meter provider exporting over OTLP/HTTP.
// With telemetry disabled the global no-op provider is left in place.
func NewProvider(ctx context.Context, cfg models.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint))}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp}, nil
}

// Meter returns the dashboard meter from the active provider.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meterProvider == nil {
		return otel.Meter(meterName)
	}
	return p.meterProvider.Meter(meterName)
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

// Metrics groups the counters recorded by the core components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	messages         metric.Int64Counter
	protocolErrors   metric.Int64Counter
	connStates       metric.Int64Counter
	reconnects       metric.Int64Counter
	commands         metric.Int64Counter
	staleDiscards    metric.Int64Counter
	sessionRefreshes metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.messages, err = meter.Int64Counter("dashboard.push.messages",
		metric.WithDescription("Push messages dispatched, by type")); err != nil {
		return nil, err
	}
	if m.protocolErrors, err = meter.Int64Counter("dashboard.push.protocol_errors",
		metric.WithDescription("Push payloads dropped as malformed or unknown")); err != nil {
		return nil, err
	}
	if m.connStates, err = meter.Int64Counter("dashboard.connection.transitions",
		metric.WithDescription("Connection state transitions, by target state")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("dashboard.connection.reconnects_scheduled"); err != nil {
		return nil, err
	}
	if m.commands, err = meter.Int64Counter("dashboard.commands",
		metric.WithDescription("Request/response commands, by operation and outcome")); err != nil {
		return nil, err
	}
	if m.staleDiscards, err = meter.Int64Counter("dashboard.stale_results_discarded"); err != nil {
		return nil, err
	}
	if m.sessionRefreshes, err = meter.Int64Counter("dashboard.session.refreshes"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) MessageReceived(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) ProtocolError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.protocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) ConnectionState(ctx context.Context, state models.ConnectionState) {
	if m == nil {
		return
	}
	m.connStates.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (m *Metrics) ReconnectScheduled(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

func (m *Metrics) Command(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) StaleDiscarded(ctx context.Context, what string) {
	if m == nil {
		return
	}
	m.staleDiscards.Add(ctx, 1, metric.WithAttributes(attribute.String("what", what)))
}

func (m *Metrics) SessionRefreshed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionRefreshes.Add(ctx, 1)
}
