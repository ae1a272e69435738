package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/colorfulnotion/avx2rw/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// See https://opentelemetry.io/docs/specs/otel/configuration/sdk-environment-variables/
const (
	otelSDKDisabledEnv                = "OTEL_SDK_DISABLED"
	otelTracesExporterEnv             = "OTEL_TRACES_EXPORTER"
	otelExporterOTLPEndpointEnv       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	otelExporterOTLPTracesEndpointEnv = "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
	otelTracesSamplerEnv              = "OTEL_TRACES_SAMPLER"
	otelTracesSamplerArgEnv           = "OTEL_TRACES_SAMPLER_ARG"
)

var errTracingDisabled = errors.New("tracing disabled")

// getTracerProvider builds an OTLP/HTTP tracer provider from the standard
// OTEL_* variables. Without an endpoint it returns errTracingDisabled
// rather than letting the exporter fall back to localhost.
func getTracerProvider(ctx context.Context, getEnv func(string) string) (*sdktrace.TracerProvider, error) {
	if v := getEnv(otelSDKDisabledEnv); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s=%s: %w: %v", otelSDKDisabledEnv, v, errTracingDisabled, err)
		}
		if b {
			return nil, fmt.Errorf("%s=%s: %w", otelSDKDisabledEnv, v, errTracingDisabled)
		}
	}

	switch name := getEnv(otelTracesExporterEnv); name {
	case "otlp":
	case "":
		if getEnv(otelExporterOTLPEndpointEnv) == "" && getEnv(otelExporterOTLPTracesEndpointEnv) == "" {
			return nil, fmt.Errorf("no endpoint configured: %w", errTracingDisabled)
		}
	case "none":
		return nil, fmt.Errorf("%s=%s: %w", otelTracesExporterEnv, name, errTracingDisabled)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q in %s", name, otelTracesExporterEnv)
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch v := getEnv(otelTracesSamplerEnv); v {
	case "always_on":
		sampler = sdktrace.AlwaysSample()
	case "always_off":
		sampler = sdktrace.NeverSample()
	case "parentbased_always_on", "":
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		sampler = sdktrace.ParentBased(sdktrace.NeverSample())
	case "traceidratio", "parentbased_traceidratio":
		ratio := 1.0
		if arg := getEnv(otelTracesSamplerArgEnv); arg != "" {
			if ratio, err = strconv.ParseFloat(arg, 64); err != nil {
				return nil, fmt.Errorf("%s=%s: %w", otelTracesSamplerArgEnv, arg, err)
			}
		}
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		log.Warn(log.CLIMonitoring, "unsupported tracing sampler, using parentbased_always_on", "sampler", v)
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler),
	), nil
}

// installTracing sets the global tracer provider when tracing is
// configured. The returned func flushes and stops it.
func installTracing(ctx context.Context, getEnv func(string) string) (func(context.Context) error, error) {
	tp, err := getTracerProvider(ctx, getEnv)
	if errors.Is(err, errTracingDisabled) {
		log.Debug(log.CLIMonitoring, "tracing off", "reason", err)
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
