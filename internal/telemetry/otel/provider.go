// Package otel wires opt-in OpenTelemetry instrumentation around one
// awsconnect invocation: a span per pipeline stage and counters for the
// control-plane traffic. Disabled unless AWSCONNECT_OTEL is set; traces go to
// a stdout exporter.
package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/opsdeck/awsconnect"

// Config controls exporter behaviour.
type Config struct {
	ServiceName   string
	EnableMetrics bool
	EnableTraces  bool
}

// LoadConfigFromEnv reads the AWSCONNECT_OTEL toggle.
func LoadConfigFromEnv() Config {
	enabled := EnvBool(os.Getenv("AWSCONNECT_OTEL"), false)
	return Config{
		ServiceName:   "awsconnect",
		EnableMetrics: enabled,
		EnableTraces:  enabled,
	}
}

// Provider owns the meter/tracer providers and session instruments.
type Provider struct {
	cfg            Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	reader         *sdkmetric.ManualReader
	meter          metric.Meter
	tracer         trace.Tracer

	instruments  *SessionInstruments
	shutdownOnce sync.Once
}

// Setup initialises exporters per the config. A fully disabled config yields
// an inert provider whose instruments are all no-ops.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		cfg:    cfg,
		tracer: noop.NewTracerProvider().Tracer(scopeName),
		meter:  metricnoop.NewMeterProvider().Meter(scopeName),
	}
	if !cfg.EnableMetrics && !cfg.EnableTraces {
		p.instruments = newSessionInstruments(p)
		return p, nil
	}

	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "awsconnect"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if cfg.EnableMetrics {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		p.meterProvider = mp
		p.reader = reader
		otel.SetMeterProvider(mp)
		p.meter = mp.Meter(scopeName)
	}

	if cfg.EnableTraces {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("init stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(64)),
			sdktrace.WithResource(res),
		)
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
		p.tracer = tp.Tracer(scopeName)
	}

	p.instruments = newSessionInstruments(p)
	return p, nil
}

// Session returns the session instruments. Safe on a nil provider.
func (p *Provider) Session() *SessionInstruments {
	if p == nil {
		return nil
	}
	return p.instruments
}

// Shutdown flushes and stops the configured providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if p.meterProvider != nil {
			if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = errors.Join(errs...)
		}
	})
	return err
}

// EnvBool interprets AWSCONNECT_* env toggles.
func EnvBool(value string, defaultOn bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return defaultOn
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}
