// Package telemetry initializes OpenTelemetry providers for metric and
// log export and provides the recording helpers the daemon calls.
//
// Metrics → VictoriaMetrics via OTLP HTTP
// Logs    → VictoriaLogs via OTLP HTTP
//
// Enabled by setting at least one of:
//
//	OTEL_EXPORTER_OTLP_ENDPOINT (per-signal paths derived from it)
//	OVERCODE_OTEL_METRICS_URL   (default: http://localhost:8428/opentelemetry/api/v1/push)
//	OVERCODE_OTEL_LOGS_URL      (default: http://localhost:9428/insert/opentelemetry/v1/logs)
//
// Telemetry is best-effort: initialization errors are returned but must
// not affect normal operation — callers log and continue. When no
// endpoint is configured the OTel globals stay no-ops and every
// recording helper is free.
//
// Init is idempotent: multiple calls return the same provider.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvEndpoint is the standard OTLP endpoint variable. When only it
	// is set, per-signal URLs are derived from it.
	EnvEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

	// EnvMetricsURL overrides the metrics push endpoint.
	EnvMetricsURL = "OVERCODE_OTEL_METRICS_URL"

	// EnvLogsURL overrides the logs insert endpoint.
	EnvLogsURL = "OVERCODE_OTEL_LOGS_URL"

	// DefaultMetricsURL is VictoriaMetrics' OTLP push endpoint.
	DefaultMetricsURL = "http://localhost:8428/opentelemetry/api/v1/push"

	// DefaultLogsURL is VictoriaLogs' OTLP insert endpoint.
	DefaultLogsURL = "http://localhost:9428/insert/opentelemetry/v1/logs"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 30 * time.Second
)

// Active reports whether any telemetry endpoint is configured.
func Active() bool {
	return os.Getenv(EnvEndpoint) != "" || os.Getenv(EnvMetricsURL) != "" || os.Getenv(EnvLogsURL) != ""
}

// endpoints resolves the per-signal URLs from the environment.
func endpoints() (metricsURL, logsURL string) {
	metricsURL = os.Getenv(EnvMetricsURL)
	logsURL = os.Getenv(EnvLogsURL)
	if base := strings.TrimRight(os.Getenv(EnvEndpoint), "/"); base != "" {
		if metricsURL == "" {
			metricsURL = base + "/v1/metrics"
		}
		if logsURL == "" {
			logsURL = base + "/v1/logs"
		}
	}
	if metricsURL == "" {
		metricsURL = DefaultMetricsURL
	}
	if logsURL == "" {
		logsURL = DefaultLogsURL
	}
	return metricsURL, logsURL
}

// package-level state for idempotent Init.
var (
	initMu         sync.Mutex
	initDone       bool
	globalProvider *Provider
)

// Provider wraps OTel SDK providers and their shutdown functions.
type Provider struct {
	shutdowns    []func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes all pending data and stops the OTel providers.
// Idempotent: safe to call more than once. Should be called with a
// deadline context (e.g. 5s timeout) on process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true

	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}
	return nil
}

// Init initializes OTel metric and log providers.
//
// Idempotent: subsequent calls (same or different arguments) return the
// provider created on the first call. Each daemon process calls Init
// exactly once from its entry point.
//
// Returns (nil, nil) when no endpoint variable is set, so telemetry is
// strictly opt-in.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return globalProvider, nil
	}

	if !Active() {
		initDone = true
		globalProvider = nil
		return nil, nil
	}
	metricsURL, logsURL := endpoints()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	p := &Provider{}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(metricsURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(ExportInterval),
			),
		),
	)
	otel.SetMeterProvider(mp)
	p.shutdowns = append(p.shutdowns, mp.Shutdown)
	initInstruments()

	logExp, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(logsURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)
	global.SetLoggerProvider(lp)
	p.shutdowns = append(p.shutdowns, lp.Shutdown)

	initDone = true
	globalProvider = p
	return p, nil
}
